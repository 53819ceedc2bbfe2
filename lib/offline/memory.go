package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
)

// MemoryStore is a Storage held in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	queues      map[jid.ID][]stanza.TimedStanza
	maxPerOwner int
	closed      bool
}

// NewMemoryStore creates an empty store. maxPerOwner caps each owner's
// queue; zero or negative means unbounded.
func NewMemoryStore(maxPerOwner int) *MemoryStore {
	return &MemoryStore{
		queues:      make(map[jid.ID][]stanza.TimedStanza),
		maxPerOwner: maxPerOwner,
	}
}

// PopStanzas implements Storage.
func (s *MemoryStore) PopStanzas(_ context.Context, owner jid.ID) ([]stanza.TimedStanza, error) {
	if err := checkKey(owner); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	queued := s.queues[owner]
	delete(s.queues, owner)
	return queued, nil
}

// PushStanza implements Storage.
func (s *MemoryStore) PushStanza(_ context.Context, owner jid.ID, ts stanza.TimedStanza) error {
	if err := checkKey(owner); err != nil {
		return err
	}
	if ts.Stamp.IsZero() {
		ts.Stamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.maxPerOwner > 0 && len(s.queues[owner]) >= s.maxPerOwner {
		log.WithFields(logger.Fields{
			"at":       "(MemoryStore) PushStanza",
			"owner":    owner.String(),
			"capacity": s.maxPerOwner,
		}).Warn("offline queue full")
		return fmt.Errorf("%w: %s holds %d stanzas", ErrQueueFull, owner, s.maxPerOwner)
	}

	s.queues[owner] = append(s.queues[owner], ts)
	return nil
}

// Count implements Storage.
func (s *MemoryStore) Count(_ context.Context, owner jid.ID) (int, error) {
	if err := checkKey(owner); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.queues[owner]), nil
}

// Purge implements Storage.
func (s *MemoryStore) Purge(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	removed := 0
	for owner, queued := range s.queues {
		kept := queued[:0]
		for _, ts := range queued {
			if ts.Stamp.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, ts)
		}
		if len(kept) == 0 {
			delete(s.queues, owner)
		} else {
			s.queues[owner] = kept
		}
	}
	return removed, nil
}

// Close implements Storage. Queued stanzas are discarded.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queues = nil
	return nil
}
