// Package extension implements the named custom message channels
// multiplexed over a replication protocol (spec GLOSSARY "Extension",
// §4.1 "extensions" option).
package extension

import "sync"

// Handler receives an extension message payload from a specific peer.
// peer is an opaque identifier (the replicator supplies its own peer
// reference) so handlers can reply via whatever send mechanism the
// replicator exposes.
type Handler func(peer any, payload []byte)

// Registry is a shared, named set of extension handlers. It is shared
// across sessions of the same Log and advertised to every joined peer
// (spec §4.1 "extensions" is a "shared extension registry").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Register adds a handler for name, returning an unregister function.
func (r *Registry) Register(name string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
	idx := len(r.handlers[name]) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		hs := r.handlers[name]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Names returns every registered extension name. The Replicator's
// BroadcastOptions sends these names to all joined peers; joining a peer
// does not send them on its own.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch delivers payload from peer to every handler registered for
// name.
func (r *Registry) Dispatch(name string, peer any, payload []byte) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[name]...)
	r.mu.RUnlock()
	for _, h := range hs {
		if h != nil {
			h(peer, payload)
		}
	}
}
