package router

import (
	"context"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/dispatch"
	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// DefaultRetryBudget is the number of delivery attempts made for each
// queued stanza when its recipient comes online.
const DefaultRetryBudget = 2

// RetrierConfig holds the collaborators of a Retrier.
type RetrierConfig struct {
	Dispatcher dispatch.Dispatcher
	Storage    offline.Storage
	Metrics    *Metrics
	// AttemptTimeout bounds each delivery attempt. Zero leaves attempts
	// bounded only by the caller's context.
	AttemptTimeout time.Duration
}

// Retrier redelivers queued stanzas with a bounded number of attempts.
type Retrier struct {
	dispatcher     dispatch.Dispatcher
	storage        offline.Storage
	metrics        *Metrics
	attemptTimeout time.Duration
}

// NewRetrier creates a retrier from cfg.
func NewRetrier(cfg RetrierConfig) (*Retrier, error) {
	if cfg.Dispatcher == nil {
		return nil, oops.Errorf("router: retrier needs a dispatcher")
	}
	if cfg.Storage == nil {
		return nil, oops.Errorf("router: retrier needs offline storage")
	}
	return &Retrier{
		dispatcher:     cfg.Dispatcher,
		storage:        cfg.Storage,
		metrics:        cfg.Metrics,
		attemptTimeout: cfg.AttemptTimeout,
	}, nil
}

// RetrySendOrRestore tries up to retryCount times to deliver ts to
// receiver, without delay between attempts. When every attempt fails, or
// retryCount is zero, ts goes back to the offline queue of the receiver's
// owner exactly once. lastErr is the failure that led to this retry, if
// any. It reports whether the stanza was delivered.
func (r *Retrier) RetrySendOrRestore(ctx context.Context, receiver jid.ID, ts stanza.TimedStanza, retryCount int, lastErr error) bool {
	for ; retryCount > 0; retryCount-- {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		r.metrics.retryAttempt()
		err := r.attempt(ctx, receiver, ts.Stanza)
		if err == nil {
			r.metrics.retryOutcome("delivered")
			log.WithFields(logger.Fields{
				"at":       "(Retrier) RetrySendOrRestore",
				"stanza":   ts.Stanza.ID,
				"receiver": receiver.String(),
			}).Debug("queued stanza delivered")
			return true
		}
		lastErr = err
	}

	r.restore(ctx, receiver, ts, lastErr)
	return false
}

func (r *Retrier) attempt(ctx context.Context, receiver jid.ID, st *stanza.Stanza) error {
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}

	failures := r.dispatcher.Send(ctx, st, []jid.ID{receiver})
	if err, ok := failures[receiver]; ok {
		return err
	}
	for _, err := range failures {
		return err
	}
	return nil
}

// restore pushes ts back under the receiver's general form. The push runs
// even if ctx was cancelled so a shutdown does not drop the stanza.
func (r *Retrier) restore(ctx context.Context, receiver jid.ID, ts stanza.TimedStanza, lastErr error) {
	owner := receiver.GeneralForm()
	fields := logger.Fields{
		"at":       "(Retrier) restore",
		"stanza":   ts.Stanza.ID,
		"receiver": receiver.String(),
	}
	if lastErr != nil {
		log.WithError(lastErr).WithFields(fields).Warn("retries exhausted, restoring stanza to offline queue")
	} else {
		log.WithFields(fields).Warn("no retries left, restoring stanza to offline queue")
	}

	if err := r.storage.PushStanza(context.WithoutCancel(ctx), owner, ts); err != nil {
		r.metrics.offlineEvent("lost", 1)
		r.metrics.retryOutcome("lost")
		log.WithError(err).WithFields(fields).Error("failed to restore stanza, stanza lost")
		return
	}
	r.metrics.offlineEvent("restored", 1)
	r.metrics.retryOutcome("restored")
}
