package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/dispatch"
	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/presence"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"go.uber.org/multierr"
)

// Routes recorded by the routed-stanzas counter.
const (
	routeBroadcast   = "broadcast"
	routeRemote      = "remote"
	routeNoAccount   = "no_account"
	routeFull        = "full"
	routeGeneral     = "general"
	routeUndelivered = "undeliverable"
)

// HandlerConfig holds the collaborators of a Handler. Only Dispatcher is
// required.
type HandlerConfig struct {
	Directory  presence.Directory
	Dispatcher dispatch.Dispatcher
	// Storage receives undeliverable stanzas when StoreOffline is set.
	Storage offline.Storage
	// Accounts defaults to treating every local owner as registered.
	Accounts Accounts
	// Roster resolves broadcast recipients. Without it, stanzas with no
	// recipient are dropped.
	Roster Roster
	// Outbound carries stanzas for remote domains. Without it, such
	// stanzas are answered with service-unavailable.
	Outbound Outbound
	// Responder delivers error replies. It defaults to routing them back
	// through the handler itself.
	Responder Responder
	Metrics   *Metrics
	// LocalDomains lists the domains served here. An empty list makes
	// every domain local.
	LocalDomains []string
	StoreOffline bool
	Now          func() time.Time
}

// Handler routes stanzas to connected resources.
type Handler struct {
	selector   *Selector
	dispatcher dispatch.Dispatcher
	storage    offline.Storage
	accounts   Accounts
	roster     Roster
	outbound   Outbound
	responder  Responder
	metrics    *Metrics
	local      map[string]struct{}
	store      bool
	now        func() time.Time
}

// NewHandler creates a handler from cfg.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Dispatcher == nil {
		return nil, oops.Errorf("router: handler needs a dispatcher")
	}
	if cfg.StoreOffline && cfg.Storage == nil {
		return nil, oops.Errorf("router: store-and-forward enabled without offline storage")
	}

	h := &Handler{
		selector:   NewSelector(cfg.Directory),
		dispatcher: cfg.Dispatcher,
		storage:    cfg.Storage,
		accounts:   cfg.Accounts,
		roster:     cfg.Roster,
		outbound:   cfg.Outbound,
		responder:  cfg.Responder,
		metrics:    cfg.Metrics,
		local:      make(map[string]struct{}, len(cfg.LocalDomains)),
		store:      cfg.StoreOffline,
		now:        cfg.Now,
	}
	for _, d := range cfg.LocalDomains {
		h.local[strings.ToLower(d)] = struct{}{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.responder == nil {
		h.responder = ResponderFunc(h.Handle)
	}
	return h, nil
}

// Handle routes st. The returned error is non-nil only when a lookup
// collaborator failed, in which case it wraps ErrServiceUnavailable.
// Delivery failures are handled here and never returned.
func (h *Handler) Handle(ctx context.Context, st *stanza.Stanza) error {
	if st == nil {
		return oops.Errorf("router: nil stanza")
	}
	return h.route(ctx, st, false)
}

// route classifies st by its recipient. Copies fanned out by a broadcast
// are quiet: when they cannot be delivered they are dropped, not bounced.
func (h *Handler) route(ctx context.Context, st *stanza.Stanza, quiet bool) error {
	to := st.To

	if to.IsZero() {
		h.metrics.route(routeBroadcast)
		return h.broadcast(ctx, st)
	}

	if !h.isLocal(to.Domain()) {
		h.metrics.route(routeRemote)
		h.routeRemote(ctx, st, quiet)
		return nil
	}

	exists, err := h.accountExists(ctx, to)
	if err != nil {
		return err
	}
	if !exists {
		h.metrics.route(routeNoAccount)
		log.WithFields(logger.Fields{
			"at":        "(Handler) route",
			"recipient": to.String(),
			"reason":    "no such account",
		}).Debug("rejecting stanza")
		if !quiet {
			h.bounce(ctx, st, stanza.ConditionServiceUnavailable, "no such account")
		}
		return nil
	}

	if to.IsFull() {
		handled, err := h.routeFull(ctx, st, quiet)
		if handled || err != nil {
			return err
		}
	}

	h.metrics.route(routeGeneral)
	return h.routeGeneral(ctx, st, quiet)
}

// routeFull delivers st to the exact resource named by its recipient. It
// reports false when that resource is not connected so the caller can fall
// back to the general form.
func (h *Handler) routeFull(ctx context.Context, st *stanza.Stanza, quiet bool) (bool, error) {
	resources, err := h.selector.lookup(ctx, st.To)
	if err != nil {
		return false, err
	}
	if _, ok := resources.Get(st.To); !ok {
		log.WithFields(logger.Fields{
			"at":        "(Handler) routeFull",
			"recipient": st.To.String(),
		}).Debug("resource not connected, routing to owner")
		return false, nil
	}

	h.metrics.route(routeFull)
	failures := h.dispatcher.Send(ctx, st, []jid.ID{st.To})
	if len(failures) == 0 {
		return true, nil
	}
	h.afterFailures(ctx, st, 1, failures, quiet)
	return true, nil
}

func (h *Handler) routeGeneral(ctx context.Context, st *stanza.Stanza, quiet bool) error {
	receivers, err := h.selector.Select(ctx, st.To.GeneralForm())
	if err != nil {
		return err
	}
	if receivers.IsEmpty() {
		log.WithFields(logger.Fields{
			"at":        "(Handler) routeGeneral",
			"recipient": st.To.String(),
			"reason":    "no eligible resource",
		}).Debug("stanza undeliverable")
		h.undeliverable(ctx, st, quiet)
		return nil
	}

	targets := receivers.Keys()
	failures := h.dispatcher.Send(ctx, st, targets)
	if len(failures) > 0 {
		h.afterFailures(ctx, st, len(targets), failures, quiet)
	}
	return nil
}

// afterFailures decides what a set of per-target failures means for st.
// The stanza is undeliverable only when every target failed and every
// cause says the recipient is unreachable. Anything else is logged. A total
// failure with any timeout or internal cause is deliberately silent towards
// the sender, since the recipient may still have received the stanza.
func (h *Handler) afterFailures(ctx context.Context, st *stanza.Stanza, attempted int, failures map[jid.ID]error, quiet bool) {
	bounceable := 0
	for target, err := range failures {
		h.metrics.dispatchFailure(err)
		if dispatch.IsBounceable(err) {
			bounceable++
			continue
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Handler) afterFailures",
			"stanza": st.ID,
			"target": target.String(),
			"code":   dispatch.CodeOf(err).String(),
		}).Warn("delivery failed")
	}

	if len(failures) < attempted {
		log.WithFields(logger.Fields{
			"at":        "(Handler) afterFailures",
			"stanza":    st.ID,
			"attempted": attempted,
			"failed":    len(failures),
		}).Debug("partial delivery")
		return
	}
	if bounceable == len(failures) {
		h.undeliverable(ctx, st, quiet)
	}
}

// undeliverable queues st for later delivery when store-and-forward applies,
// otherwise tells the sender the service is unavailable.
func (h *Handler) undeliverable(ctx context.Context, st *stanza.Stanza, quiet bool) {
	h.metrics.route(routeUndelivered)

	if h.store && st.IsStorable() {
		owner := st.To.GeneralForm()
		err := h.storage.PushStanza(ctx, owner, stanza.NewTimed(st, h.now()))
		if err == nil {
			h.metrics.offlineEvent("stored", 1)
			log.WithFields(logger.Fields{
				"at":     "(Handler) undeliverable",
				"stanza": st.ID,
				"owner":  owner.String(),
			}).Debug("stanza queued for offline delivery")
			return
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Handler) undeliverable",
			"stanza": st.ID,
			"owner":  owner.String(),
		}).Error("failed to queue stanza")
	}

	if !quiet {
		h.bounce(ctx, st, stanza.ConditionServiceUnavailable, "")
	}
}

func (h *Handler) routeRemote(ctx context.Context, st *stanza.Stanza, quiet bool) {
	if h.outbound == nil {
		if !quiet {
			h.bounce(ctx, st, stanza.ConditionServiceUnavailable, "remote domains are not served")
		}
		return
	}
	if err := h.outbound.Send(ctx, st); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Handler) routeRemote",
			"stanza": st.ID,
			"domain": st.To.Domain(),
		}).Warn("outbound delivery failed")
		if !quiet {
			h.bounce(ctx, st, stanza.ConditionRemoteServerNotFound, "")
		}
	}
}

func (h *Handler) broadcast(ctx context.Context, st *stanza.Stanza) error {
	if h.roster == nil || st.From.IsZero() {
		log.WithFields(logger.Fields{
			"at":     "(Handler) broadcast",
			"stanza": st.ID,
			"reason": "no roster or no sender",
		}).Debug("dropping stanza without recipient")
		return nil
	}

	subscribers, err := h.roster.Subscribers(ctx, st.From.GeneralForm())
	if err != nil {
		return fmt.Errorf("%w: roster lookup for %s: %w", ErrServiceUnavailable, st.From.GeneralForm(), err)
	}

	var errs error
	for _, sub := range subscribers {
		errs = multierr.Append(errs, h.route(ctx, st.Readdress(sub.GeneralForm()), true))
	}
	return errs
}

// bounce sends the sender of st an error reply. Error stanzas are never
// answered, which keeps a reply from looping between two dead ends.
func (h *Handler) bounce(ctx context.Context, st *stanza.Stanza, condition stanza.Condition, text string) {
	if st.IsError() || st.From.IsZero() {
		log.WithFields(logger.Fields{
			"at":        "(Handler) bounce",
			"stanza":    st.ID,
			"condition": condition,
		}).Debug("not bouncing error or anonymous stanza")
		return
	}

	h.metrics.bounce(condition)
	reply := stanza.NewErrorReply(st, condition, text)
	if err := h.responder.Respond(ctx, reply); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":        "(Handler) bounce",
			"stanza":    st.ID,
			"condition": condition,
		}).Warn("failed to deliver error reply")
	}
}

func (h *Handler) isLocal(domain string) bool {
	if len(h.local) == 0 {
		return true
	}
	_, ok := h.local[domain]
	return ok
}

func (h *Handler) accountExists(ctx context.Context, to jid.ID) (bool, error) {
	if h.accounts == nil {
		return true, nil
	}
	exists, err := h.accounts.Exists(ctx, to.GeneralForm())
	if err != nil {
		return false, fmt.Errorf("%w: account lookup for %s: %w", ErrServiceUnavailable, to.GeneralForm(), err)
	}
	return exists, nil
}
