// Package offline implements the store-and-forward queue for stanzas that
// could not be delivered.
//
// Stanzas are queued under the general form of their recipient, so every
// resource of an owner drains the same backlog. PopStanzas is atomic: a
// stanza handed to one caller is never handed to another, which makes
// concurrent drains for the same owner safe.
package offline

import (
	"context"
	"errors"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
)

var (
	// ErrNotGeneralForm is returned when a queue key carries a resource.
	ErrNotGeneralForm = errors.New("offline: queue key must be a general-form ID")
	// ErrQueueFull is returned when an owner's queue is at capacity.
	ErrQueueFull = errors.New("offline: queue full")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("offline: store closed")
)

// Storage is a durable queue of undeliverable stanzas keyed by the general
// form of the recipient.
type Storage interface {
	// PopStanzas removes and returns every stanza queued for owner, oldest
	// first.
	PopStanzas(ctx context.Context, owner jid.ID) ([]stanza.TimedStanza, error)
	// PushStanza appends ts to owner's queue.
	PushStanza(ctx context.Context, owner jid.ID, ts stanza.TimedStanza) error
	// Count returns the number of stanzas queued for owner.
	Count(ctx context.Context, owner jid.ID) (int, error)
	// Purge removes every stanza queued before olderThan and returns how
	// many were removed.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

func checkKey(owner jid.ID) error {
	if owner.IsFull() || owner.IsZero() {
		return ErrNotGeneralForm
	}
	return nil
}
