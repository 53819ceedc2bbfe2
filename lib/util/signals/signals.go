// Package signals runs registered handlers when the process is asked to
// reload (SIGHUP) or stop (SIGINT, SIGTERM).
package signals

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-i2p/logger"
)

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registered handler for Deregister.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// registry is an ordered set of handlers for one signal kind.
type registry struct {
	kind     string
	handlers []registeredHandler
}

var (
	mu           sync.RWMutex
	reloaders    = &registry{kind: "reload"}
	interrupters = &registry{kind: "interrupt"}
	nextID       HandlerID
	stopOnce     sync.Once
)

func register(r *registry, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	r.handlers = append(r.handlers, registeredHandler{id: id, fn: f})
	return id
}

func deregister(r *registry, id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// run calls every handler of r in registration order. A panicking handler
// is logged and does not stop the others.
func run(r *registry) {
	mu.RLock()
	snapshot := make([]registeredHandler, len(r.handlers))
	copy(snapshot, r.handlers)
	mu.RUnlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.WithFields(logger.Fields{
						"at":    "signals.run",
						"kind":  r.kind,
						"panic": fmt.Sprint(p),
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP. Nil handlers
// are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID { return register(reloaders, f) }

// DeregisterReloadHandler removes a previously registered reload handler.
func DeregisterReloadHandler(id HandlerID) { deregister(reloaders, id) }

// RegisterInterruptHandler registers a handler called on SIGINT or SIGTERM.
// Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID { return register(interrupters, f) }

// DeregisterInterruptHandler removes a previously registered interrupt handler.
func DeregisterInterruptHandler(id HandlerID) { deregister(interrupters, id) }

func handleReload() {
	log.Info("reload requested")
	run(reloaders)
}

func handleInterrupted() {
	log.Info("shutdown requested")
	handlePreShutdown()
	run(interrupters)
}

// StopHandle closes the signal channel, causing Handle() to return.
// Safe to call multiple times.
func StopHandle() {
	stopOnce.Do(func() {
		stopNotify()
		close(sigChan)
	})
}
