package router

import (
	"context"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/presence"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ListenerConfig holds the collaborators of a Listener.
type ListenerConfig struct {
	Storage offline.Storage
	Retrier *Retrier
	// Pool runs the retries. Without one they run inline in the
	// notification callback.
	Pool     *RetryPool
	Reporter CrashReporter
	Metrics  *Metrics
	// Budget is the number of attempts per stanza. Zero means
	// DefaultRetryBudget.
	Budget int
}

// Listener drains an owner's offline queue whenever one of its resources
// becomes available.
type Listener struct {
	storage  offline.Storage
	retrier  *Retrier
	pool     *RetryPool
	reporter CrashReporter
	metrics  *Metrics
	budget   int
}

var _ presence.Listener = (*Listener)(nil)

// NewListener creates a listener from cfg.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Storage == nil || cfg.Retrier == nil {
		return nil, oops.Errorf("router: listener needs offline storage and a retrier")
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	return &Listener{
		storage:  cfg.Storage,
		retrier:  cfg.Retrier,
		pool:     cfg.Pool,
		reporter: cfg.Reporter,
		metrics:  cfg.Metrics,
		budget:   budget,
	}, nil
}

// Added pops every stanza queued for the owner of id and schedules a
// retry of each to id itself.
func (l *Listener) Added(id jid.ID, _ presence.Resource) {
	defer func() {
		recoverTo(l.reporter, "(Listener) Added", recover())
	}()

	owner := id.GeneralForm()
	queued, err := l.storage.PopStanzas(context.Background(), owner)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":    "(Listener) Added",
			"owner": owner.String(),
		}).Error("failed to pop offline stanzas")
		return
	}
	if len(queued) == 0 {
		return
	}

	l.metrics.offlineEvent("popped", len(queued))
	log.WithFields(logger.Fields{
		"at":       "(Listener) Added",
		"receiver": id.String(),
		"queued":   len(queued),
	}).Debug("retrying offline stanzas")

	for _, ts := range queued {
		l.schedule(id, ts)
	}
}

// Updated treats a presence change as if the resource had just connected,
// so a missed Added never strands queued stanzas.
func (l *Listener) Updated(id jid.ID, _ presence.Resource, previous presence.Resource) {
	l.Added(id, previous)
}

// Removed does nothing. Queued stanzas stay until drained or purged.
func (l *Listener) Removed(jid.ID, presence.Resource) {}

func (l *Listener) schedule(receiver jid.ID, ts stanza.TimedStanza) {
	job := func(ctx context.Context) {
		defer func() {
			recoverTo(l.reporter, "(Listener) retry", recover())
		}()
		l.retrier.RetrySendOrRestore(ctx, receiver, ts, l.budget, nil)
	}
	if l.pool == nil {
		job(context.Background())
		return
	}
	l.pool.Submit(job)
}
