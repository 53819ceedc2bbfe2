// Package presence models connected resources and the directory that tracks
// them.
//
// The Directory is the single piece of shared mutable state the router reads
// from. It owns the lifecycle of every Resource: it creates one when a
// client connects, replaces it on presence change and drops it on
// disconnect. Routing code only borrows a snapshot per lookup.
//
// Change notifications are delivered to registered Listeners from whichever
// goroutine applied the change. Listeners must not assume a dedicated
// notification goroutine.
package presence

import (
	"context"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
)

// Show is the availability sub-state advertised by a resource.
type Show string

const (
	ShowAvailable    Show = ""
	ShowChat         Show = "chat"
	ShowAway         Show = "away"
	ShowExtendedAway Show = "xa"
	ShowDoNotDisturb Show = "dnd"
)

// Resource is an immutable presence snapshot for one connected client.
type Resource struct {
	ID       jid.ID
	Priority int8 // 0 when the client did not advertise one
	Show     Show
	Status   string
}

// Directory resolves IDs to the resources currently connected for them.
//
// A full-form query returns at most the one matching resource. A
// general-form query returns every connected resource of the owner. Both
// return an empty map when nothing is connected.
type Directory interface {
	Get(ctx context.Context, id jid.ID) (jid.IDMap[Resource], error)
}

// Listener receives directory change notifications.
type Listener interface {
	// Added is called when a resource connects.
	Added(id jid.ID, r Resource)
	// Updated is called when a connected resource changes presence.
	Updated(id jid.ID, r Resource, previous Resource)
	// Removed is called when a resource disconnects.
	Removed(id jid.ID, r Resource)
}
