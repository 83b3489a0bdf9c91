package server

import "sync"

// Registry tracks the open WebSocket connection of every charger, keyed by
// the id taken from the connection path. A second connection with the same
// id replaces the entry; the previous socket is not closed and keeps
// reading until the charger side drops it.
type Registry struct {
	mux         sync.RWMutex
	connections map[string]*WebSocket
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*WebSocket),
	}
}

func (r *Registry) Register(chargerId string, ws *WebSocket) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.connections[chargerId] = ws
}

// Unregister removes the entry for chargerId. Called from the connection
// handler on its way out, so a closed socket never stays listed.
func (r *Registry) Unregister(chargerId string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.connections, chargerId)
}

func (r *Registry) Lookup(chargerId string) (*WebSocket, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ws, ok := r.connections[chargerId]
	return ws, ok
}

func (r *Registry) IsConnected(chargerId string) bool {
	_, ok := r.Lookup(chargerId)
	return ok
}

func (r *Registry) Count() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.connections)
}

func (r *Registry) Ids() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}
