package presence

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ownerEntry holds the connected resources of one owner. Each owner has its
// own lock so presence churn for one account never blocks lookups for
// another.
type ownerEntry struct {
	mu        sync.RWMutex
	resources map[string]Resource // resource part -> snapshot
}

// MemoryDirectory is an in-process Directory. It is safe for concurrent
// use: the owner table is guarded by one RWMutex and each owner's resource
// set by its own.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[jid.ID]*ownerEntry // general-form ID -> entry

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		owners:    make(map[jid.ID]*ownerEntry),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers l for change notifications. The returned function
// removes the registration.
func (d *MemoryDirectory) Subscribe(l Listener) (cancel func()) {
	d.listenersMu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.listenersMu.Unlock()

	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

// Get implements Directory.
func (d *MemoryDirectory) Get(ctx context.Context, id jid.ID) (jid.IDMap[Resource], error) {
	if err := ctx.Err(); err != nil {
		return jid.IDMap[Resource]{}, err
	}

	entry := d.entry(id.GeneralForm())
	if entry == nil {
		return jid.NewIDMap[Resource](0), nil
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	if id.IsFull() {
		result := jid.NewIDMap[Resource](1)
		if r, ok := entry.resources[id.Resource()]; ok {
			result.Put(r.ID, r)
		}
		return result, nil
	}

	result := jid.NewIDMap[Resource](len(entry.resources))
	for _, r := range entry.resources {
		result.Put(r.ID, r)
	}
	return result, nil
}

// Put records r as connected. Listeners see Added for a new resource and
// Updated when r replaces an existing snapshot.
func (d *MemoryDirectory) Put(r Resource) error {
	if !r.ID.IsFull() {
		return oops.Errorf("presence: resource ID %s is not full-form", r.ID)
	}

	general := r.ID.GeneralForm()

	d.mu.Lock()
	entry, ok := d.owners[general]
	if !ok {
		entry = &ownerEntry{resources: make(map[string]Resource)}
		d.owners[general] = entry
	}
	entry.mu.Lock()
	d.mu.Unlock()

	previous, existed := entry.resources[r.ID.Resource()]
	entry.resources[r.ID.Resource()] = r
	entry.mu.Unlock()

	if existed {
		log.WithFields(logger.Fields{
			"at":       "(MemoryDirectory) Put",
			"resource": r.ID.String(),
			"priority": r.Priority,
		}).Debug("resource updated")
		d.notify(func(l Listener) { l.Updated(r.ID, r, previous) })
		return nil
	}

	log.WithFields(logger.Fields{
		"at":       "(MemoryDirectory) Put",
		"resource": r.ID.String(),
		"priority": r.Priority,
	}).Debug("resource added")
	d.notify(func(l Listener) { l.Added(r.ID, r) })
	return nil
}

// Remove drops the resource with the given full-form ID. It reports whether
// a resource was removed.
func (d *MemoryDirectory) Remove(id jid.ID) bool {
	if !id.IsFull() {
		return false
	}
	general := id.GeneralForm()

	d.mu.Lock()
	entry, ok := d.owners[general]
	if !ok {
		d.mu.Unlock()
		return false
	}
	entry.mu.Lock()
	r, existed := entry.resources[id.Resource()]
	if existed {
		delete(entry.resources, id.Resource())
	}
	if len(entry.resources) == 0 {
		delete(d.owners, general)
	}
	entry.mu.Unlock()
	d.mu.Unlock()

	if !existed {
		return false
	}

	log.WithFields(logger.Fields{
		"at":       "(MemoryDirectory) Remove",
		"resource": id.String(),
	}).Debug("resource removed")
	d.notify(func(l Listener) { l.Removed(id, r) })
	return true
}

// Len returns the number of connected resources across all owners.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, entry := range d.owners {
		entry.mu.RLock()
		n += len(entry.resources)
		entry.mu.RUnlock()
	}
	return n
}

func (d *MemoryDirectory) entry(general jid.ID) *ownerEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.owners[general]
}

// notify calls fn for every listener. A panicking listener is logged and
// skipped; the remaining listeners are still notified.
func (d *MemoryDirectory) notify(fn func(Listener)) {
	d.listenersMu.RLock()
	snapshot := make([]Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		snapshot = append(snapshot, l)
	}
	d.listenersMu.RUnlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":    "(MemoryDirectory) notify",
						"panic": fmt.Sprint(r),
						"stack": string(debug.Stack()),
					}).Error("presence listener panicked")
				}
			}()
			fn(l)
		}()
	}
}
