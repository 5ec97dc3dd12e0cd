// Package serverstate tracks the gateway's lifecycle status (not_ready,
// ready, draining) so health endpoints and load balancers can route around
// an instance that is starting up or shutting down.
package serverstate

import "sync/atomic"

// State is the published lifecycle snapshot.
type State struct {
	Status   string `json:"status"`
	Draining bool   `json:"draining"`
}

// Store persists the state. The default is in-memory; a redis-backed
// implementation lets replicas behind one VIP share it.
type Store interface {
	Load() State
	Store(State)
}

// active is the currently configured Store. It is swapped at startup,
// before any concurrent access.
var active Store = NewMemoryStore()

// UseStore replaces the active Store.
func UseStore(s Store) {
	if s != nil {
		active = s
	}
}

func store() Store {
	return active
}

// memoryStore keeps the state in an atomic.Value.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() *memoryStore {
	ms := &memoryStore{}
	ms.v.Store(State{Status: "not_ready"})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// SetState updates the status string.
func SetState(status string) {
	s := store()
	st := s.Load()
	st.Status = status
	s.Store(st)
}

// GetState returns the current status string.
func GetState() string {
	return store().Load().Status
}

// Current returns the full snapshot.
func Current() State {
	return store().Load()
}

// StartDrain marks the gateway as draining.
func StartDrain() {
	s := store()
	st := s.Load()
	st.Status = "draining"
	st.Draining = true
	s.Store(st)
}

// IsDraining reports whether the gateway is draining.
func IsDraining() bool {
	return store().Load().Draining
}
