package router

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
)

// Accounts reports whether a local account exists.
type Accounts interface {
	Exists(ctx context.Context, owner jid.ID) (bool, error)
}

// Roster lists the entities subscribed to an owner's broadcasts.
type Roster interface {
	Subscribers(ctx context.Context, owner jid.ID) ([]jid.ID, error)
}

// Outbound hands stanzas for remote domains to the federation transport.
type Outbound interface {
	Send(ctx context.Context, st *stanza.Stanza) error
}

// Responder delivers error replies generated by the handler.
type Responder interface {
	Respond(ctx context.Context, reply *stanza.Stanza) error
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, reply *stanza.Stanza) error

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, reply *stanza.Stanza) error {
	return f(ctx, reply)
}

// CrashReporter receives panics recovered from presence callbacks.
type CrashReporter interface {
	ReportPanic(where string, recovered any, stack []byte)
}

// recoverTo logs a recovered panic and forwards it to reporter when one is
// set. recovered must come from a recover call in a deferred function.
func recoverTo(reporter CrashReporter, where string, recovered any) {
	if recovered == nil {
		return
	}
	stack := debug.Stack()
	log.WithFields(logger.Fields{
		"at":    where,
		"panic": fmt.Sprint(recovered),
	}).Error("recovered panic")
	if reporter != nil {
		reporter.ReportPanic(where, recovered, stack)
	}
}

// CachedAccounts caches positive answers of another Accounts. Negative
// answers are never cached so newly registered accounts are seen at once.
type CachedAccounts struct {
	inner Accounts
	cache *lru.Cache[jid.ID, struct{}]
}

// NewCachedAccounts wraps inner with a cache holding up to size owners.
func NewCachedAccounts(inner Accounts, size int) (*CachedAccounts, error) {
	if inner == nil {
		return nil, oops.Errorf("router: cached accounts need a backing Accounts")
	}
	cache, err := lru.New[jid.ID, struct{}](size)
	if err != nil {
		return nil, oops.Wrapf(err, "router: create account cache")
	}
	return &CachedAccounts{inner: inner, cache: cache}, nil
}

// Exists implements Accounts.
func (c *CachedAccounts) Exists(ctx context.Context, owner jid.ID) (bool, error) {
	owner = owner.GeneralForm()
	if c.cache.Contains(owner) {
		return true, nil
	}
	exists, err := c.inner.Exists(ctx, owner)
	if err != nil {
		return false, err
	}
	if exists {
		c.cache.Add(owner, struct{}{})
	}
	return exists, nil
}

// Forget drops owner from the cache, e.g. after the account is deleted.
func (c *CachedAccounts) Forget(owner jid.ID) {
	c.cache.Remove(owner.GeneralForm())
}
