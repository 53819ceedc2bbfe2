package dispatch

import (
	"context"
	"sync"

	"github.com/go-i2p/go-stanzarouter/lib/stanza"
)

// QueueChannel is a buffered in-process Channel. Deliver blocks while the
// buffer is full, until the context is done or the channel is closed.
type QueueChannel struct {
	mu       sync.RWMutex
	messages chan *stanza.Stanza
	done     chan struct{}
	senders  sync.WaitGroup
	closed   bool
}

// NewQueueChannel creates a channel buffering up to size stanzas.
func NewQueueChannel(size int) *QueueChannel {
	return &QueueChannel{
		messages: make(chan *stanza.Stanza, size),
		done:     make(chan struct{}),
	}
}

// Deliver implements Channel. It fails with ErrResourceOffline once the
// channel has been closed, including while it waits for buffer space.
func (c *QueueChannel) Deliver(ctx context.Context, st *stanza.Stanza) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrResourceOffline
	}
	c.senders.Add(1)
	c.mu.RUnlock()
	defer c.senders.Done()

	select {
	case c.messages <- st:
		return nil
	case <-c.done:
		return ErrResourceOffline
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the receive side of the buffer.
func (c *QueueChannel) Messages() <-chan *stanza.Stanza {
	return c.messages
}

// Close marks the channel offline and closes the buffer. Pending Deliver
// calls return ErrResourceOffline. Buffered stanzas remain readable.
func (c *QueueChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	// senders can no longer register, and the ones waiting leave via done
	c.senders.Wait()
	close(c.messages)
	return nil
}
