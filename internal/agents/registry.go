// Package agents is the websocket control plane for target-side agents:
// processes that connect to the gateway, declare which target interfaces
// they serve, and execute dispatched calls.
package agents

import (
	"errors"
	"sync"
	"time"

	"github.com/orbgate/orbgate/internal/metrics"
)

const (
	HeartbeatInterval = 5 * time.Second
	HeartbeatExpiry   = 3 * HeartbeatInterval
)

var ErrNoAgent = errors.New("no agent for interface")

// Agent is one registered target-side process.
type Agent struct {
	ID             string
	Interfaces     map[string]bool
	MaxConcurrency int
	InFlight       int
	LastHeartbeat  time.Time
	Send           chan any
	Pending        map[string]chan any
	mu             sync.Mutex
	closed         bool
}

// TrySend queues a frame for the writer goroutine without blocking. It
// reports false when the agent is gone or its send queue is full.
func (a *Agent) TrySend(msg any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.Send <- msg:
		return true
	default:
		return false
	}
}

// Close marks the agent gone, fails its pending calls, and releases the
// writer goroutine. Safe to call more than once.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, ch := range a.Pending {
		close(ch)
	}
	a.Pending = make(map[string]chan any)
	close(a.Send)
}

// AddPending registers the response channel for an in-flight call.
func (a *Agent) AddPending(callID string, ch chan any) {
	a.mu.Lock()
	a.Pending[callID] = ch
	a.mu.Unlock()
}

// RemovePending drops the response channel for a call.
func (a *Agent) RemovePending(callID string) {
	a.mu.Lock()
	delete(a.Pending, callID)
	a.mu.Unlock()
}

// Deliver routes a frame to the pending call it answers, if any. The send
// happens under the lock so pruning cannot close the channel mid-delivery;
// response channels are buffered, so this never blocks the read loop.
func (a *Agent) Deliver(callID string, msg any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.Pending[callID]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Registry tracks connected agents by ID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

func (r *Registry) Add(a *Agent) {
	r.mu.Lock()
	r.agents[a.ID] = a
	n := len(r.agents)
	r.mu.Unlock()
	metrics.SetConnectedAgents(n)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.agents, id)
	n := len(r.agents)
	r.mu.Unlock()
	metrics.SetConnectedAgents(n)
}

func (r *Registry) UpdateHeartbeat(id string) {
	r.mu.Lock()
	if a, ok := r.agents[id]; ok {
		a.LastHeartbeat = time.Now()
	}
	r.mu.Unlock()
}

func (r *Registry) IncInFlight(id string) {
	r.mu.Lock()
	if a, ok := r.agents[id]; ok {
		a.InFlight++
	}
	r.mu.Unlock()
}

func (r *Registry) DecInFlight(id string) {
	r.mu.Lock()
	if a, ok := r.agents[id]; ok && a.InFlight > 0 {
		a.InFlight--
	}
	r.mu.Unlock()
}

// Len returns the number of connected agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Pick returns the least busy agent serving the interface, skipping agents
// already at their concurrency cap.
func (r *Registry) Pick(iface string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Agent
	for _, a := range r.agents {
		if !a.Interfaces[iface] {
			continue
		}
		if a.MaxConcurrency > 0 && a.InFlight >= a.MaxConcurrency {
			continue
		}
		if best == nil || a.InFlight < best.InFlight {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNoAgent
	}
	return best, nil
}

// PruneExpired drops agents whose heartbeat lapsed, closing their channels
// so in-flight calls fail over to a fault instead of hanging.
func (r *Registry) PruneExpired(maxAge time.Duration) {
	r.mu.Lock()
	for id, a := range r.agents {
		if time.Since(a.LastHeartbeat) > maxAge {
			delete(r.agents, id)
			a.Close()
		}
	}
	n := len(r.agents)
	r.mu.Unlock()
	metrics.SetConnectedAgents(n)
}
