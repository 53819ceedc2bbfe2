// Package stanza defines the message stanzas routed by the stanza router and
// the timestamped wrapper used for store-and-forward.
package stanza

import (
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/google/uuid"
)

// Type is the message type attribute.
type Type string

const (
	TypeNormal    Type = "normal"
	TypeChat      Type = "chat"
	TypeGroupChat Type = "groupchat"
	TypeHeadline  Type = "headline"
	TypeError     Type = "error"
)

// Stanza is a single addressed message. Routing never mutates a stanza once
// it has been constructed; copies are made where an address must change.
type Stanza struct {
	ID      string `cbor:"id"`
	Type    Type   `cbor:"type"`
	From    jid.ID `cbor:"from"`
	To      jid.ID `cbor:"to"`
	Payload []byte `cbor:"payload,omitempty"`
	Error   *Error `cbor:"error,omitempty"`
}

// New creates a stanza with a fresh ID.
func New(typ Type, from, to jid.ID, payload []byte) *Stanza {
	if typ == "" {
		typ = TypeNormal
	}
	return &Stanza{
		ID:      uuid.New().String(),
		Type:    typ,
		From:    from,
		To:      to,
		Payload: payload,
	}
}

// IsError reports whether the stanza is an error reply.
func (s *Stanza) IsError() bool {
	return s.Type == TypeError
}

// IsStorable reports whether the stanza may be queued for later delivery
// when its recipient has no reachable resource. Only chat and normal
// messages qualify.
func (s *Stanza) IsStorable() bool {
	switch s.Type {
	case TypeChat, TypeNormal, "":
		return true
	default:
		return false
	}
}

// Readdress returns a shallow copy of s addressed to to. The payload is
// shared, not copied.
func (s *Stanza) Readdress(to jid.ID) *Stanza {
	c := *s
	c.To = to
	return &c
}

// TimedStanza is a stanza plus the time it entered the offline queue.
type TimedStanza struct {
	Stanza *Stanza   `cbor:"stanza"`
	Stamp  time.Time `cbor:"stamp"`
}

// NewTimed wraps s with the given enqueue time.
func NewTimed(s *Stanza, stamp time.Time) TimedStanza {
	return TimedStanza{Stanza: s, Stamp: stamp}
}

// Age returns how long the stanza has been queued as of now.
func (ts TimedStanza) Age(now time.Time) time.Duration {
	return now.Sub(ts.Stamp)
}
