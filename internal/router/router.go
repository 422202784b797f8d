// Package router maintains the process-wide mapping from connection id to
// the session controller handling that connection, so a controller can
// deliver a frame to its peer without knowing the peer's connection
// details beyond its identifier.
package router

import (
	"sync"
)

// Deliverable is anything capable of receiving a raw outbound frame.
// *session.Controller satisfies this; it is an interface here so router
// does not import session (which imports router), avoiding a cycle.
type Deliverable interface {
	DeliverFrame(frame []byte, priority bool) error
}

// Router is a concurrent-safe map[connectionID]Deliverable.
type Router struct {
	mu    sync.RWMutex
	conns map[string]Deliverable
}

// New builds an empty Router.
func New() *Router {
	return &Router{conns: make(map[string]Deliverable)}
}

// Register associates a connection id with its controller. Registering an
// id that is already present replaces the previous entry.
func (r *Router) Register(connID string, d Deliverable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = d
}

// Unregister removes a connection id, if present. It is a no-op if the id
// is already absent or was replaced by a newer registration for the same
// id (common during fast reconnects).
func (r *Router) Unregister(connID string, d Deliverable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[connID]; ok && current == d {
		delete(r.conns, connID)
	}
}

// Deliver forwards frame to connID's controller. ok is false if no
// controller is registered for connID on this instance — the "peer gone"
// indication callers use to decide whether to treat this as a dropped
// relay or a match failure.
func (r *Router) Deliver(connID string, frame []byte, priority bool) (ok bool, err error) {
	r.mu.RLock()
	d, found := r.conns[connID]
	r.mu.RUnlock()

	if !found {
		return false, nil
	}
	return true, d.DeliverFrame(frame, priority)
}

// Len reports the number of currently registered connections.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
