package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/presence"
	"github.com/go-i2p/logger"
)

// ErrServiceUnavailable is returned when the resource directory cannot be
// used to route a stanza.
var ErrServiceUnavailable = errors.New("router: service unavailable")

// Selector picks the resources that should receive a stanza addressed to
// an owner.
type Selector struct {
	directory presence.Directory
}

// NewSelector creates a selector reading from directory.
func NewSelector(directory presence.Directory) *Selector {
	return &Selector{directory: directory}
}

// Select returns the resources eligible to receive a stanza for recipient.
// All returned resources share the highest priority found. The result is
// empty when no resource is connected or none has a non-negative priority.
func (s *Selector) Select(ctx context.Context, recipient jid.ID) (jid.IDMap[presence.Resource], error) {
	candidates, err := s.lookup(ctx, recipient)
	if err != nil {
		return jid.IDMap[presence.Resource]{}, err
	}
	if candidates.IsEmpty() {
		return candidates, nil
	}

	receivers := arbitrate(candidates)

	log.WithFields(logger.Fields{
		"at":         "(Selector) Select",
		"recipient":  recipient.String(),
		"candidates": candidates.Len(),
		"receivers":  receivers.Len(),
	}).Debug("priority arbitration finished")
	return receivers, nil
}

func (s *Selector) lookup(ctx context.Context, id jid.ID) (jid.IDMap[presence.Resource], error) {
	if s == nil || s.directory == nil {
		return jid.IDMap[presence.Resource]{}, fmt.Errorf("%w: no resource directory", ErrServiceUnavailable)
	}
	resources, err := s.directory.Get(ctx, id)
	if err != nil {
		return jid.IDMap[presence.Resource]{}, fmt.Errorf("%w: directory lookup for %s: %w", ErrServiceUnavailable, id, err)
	}
	return resources, nil
}

// arbitrate keeps the resources sharing the highest priority, starting from
// a floor of zero. Equal priorities accumulate; a higher one replaces the
// set. The outcome does not depend on iteration order.
func arbitrate(candidates jid.IDMap[presence.Resource]) jid.IDMap[presence.Resource] {
	receivers := jid.NewIDMap[presence.Resource](candidates.Len())
	var highest int8

	candidates.Range(func(id jid.ID, r presence.Resource) bool {
		switch {
		case r.Priority == highest:
			receivers.Put(id, r)
		case r.Priority > highest:
			receivers.Clear()
			highest = r.Priority
			receivers.Put(id, r)
		}
		return true
	})
	return receivers
}
