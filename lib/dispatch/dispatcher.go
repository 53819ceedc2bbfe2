package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	"golang.org/x/sync/errgroup"
)

// Dispatcher performs delivery of a stanza to a set of resources.
type Dispatcher interface {
	// Send attempts delivery of st to each target and returns the targets
	// that failed, keyed by ID. An empty map means full success.
	Send(ctx context.Context, st *stanza.Stanza, targets []jid.ID) map[jid.ID]error
}

// Channel is the delivery endpoint of one connected resource.
type Channel interface {
	Deliver(ctx context.Context, st *stanza.Stanza) error
}

// Registry binds full-form IDs to their delivery channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[jid.ID]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[jid.ID]Channel)}
}

// Bind associates ch with id, replacing any previous binding.
func (r *Registry) Bind(id jid.ID, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[id] = ch
}

// Unbind removes the channel bound to id.
func (r *Registry) Unbind(id jid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// Lookup returns the channel bound to id.
func (r *Registry) Lookup(id jid.ID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// LocalDispatcherConfig tunes a LocalDispatcher.
type LocalDispatcherConfig struct {
	// Concurrency bounds the number of deliveries running at once for a
	// single Send. Zero or negative means unbounded.
	Concurrency int
	// AttemptTimeout bounds each individual delivery. Zero disables the
	// per-attempt timeout and relies on the caller's context.
	AttemptTimeout time.Duration
}

// LocalDispatcher delivers stanzas to channels held in a Registry.
type LocalDispatcher struct {
	registry *Registry
	config   LocalDispatcherConfig
}

// NewLocalDispatcher creates a dispatcher over registry.
func NewLocalDispatcher(registry *Registry, config LocalDispatcherConfig) *LocalDispatcher {
	return &LocalDispatcher{registry: registry, config: config}
}

// Send implements Dispatcher. Targets are delivered concurrently.
func (d *LocalDispatcher) Send(ctx context.Context, st *stanza.Stanza, targets []jid.ID) map[jid.ID]error {
	failures := make(map[jid.ID]error)
	var mu sync.Mutex

	var g errgroup.Group
	if d.config.Concurrency > 0 {
		g.SetLimit(d.config.Concurrency)
	}

	for _, target := range targets {
		g.Go(func() error {
			if err := d.deliver(ctx, st, target); err != nil {
				mu.Lock()
				failures[target] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		log.WithFields(logger.Fields{
			"at":       "(LocalDispatcher) Send",
			"stanza":   st.ID,
			"targets":  len(targets),
			"failures": len(failures),
		}).Debug("delivery finished with failures")
	}
	return failures
}

func (d *LocalDispatcher) deliver(ctx context.Context, st *stanza.Stanza, target jid.ID) error {
	ch, ok := d.registry.Lookup(target)
	if !ok {
		return &DeliveryError{Code: CodeUnknownChannel, Target: target, Err: ErrUnknownChannel}
	}

	if d.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.AttemptTimeout)
		defer cancel()
	}

	if err := ch.Deliver(ctx, st.Readdress(target)); err != nil {
		return NewDeliveryError(target, err)
	}
	return nil
}
