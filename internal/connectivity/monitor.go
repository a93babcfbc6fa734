// Package connectivity tracks whether the server is reachable and notifies
// observers on every online/offline transition.
package connectivity

import (
	"log/slog"
	"sync"
)

// Status is the state published on a transition.
type Status struct {
	IsOnline   bool
	WasOffline bool
}

// Monitor holds the current connectivity state. It does not poll; callers
// report platform notifications through SetOnline.
type Monitor struct {
	mu         sync.Mutex
	online     bool
	wasOffline bool
	nextID     int
	observers  map[int]func(Status)
}

// NewMonitor creates a Monitor in the given initial state. A monitor that
// starts offline reports WasOffline until reset.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:     online,
		wasOffline: !online,
		observers:  make(map[int]func(Status)),
	}
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WasOffline reports whether an offline period preceded the current online
// state and has not been acknowledged yet.
func (m *Monitor) WasOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasOffline
}

// Status returns the current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{IsOnline: m.online, WasOffline: m.wasOffline}
}

// ResetWasOffline acknowledges a completed reconnect.
func (m *Monitor) ResetWasOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wasOffline = false
}

// SetOnline records a platform notification. Repeating the current state is
// ignored, so each real transition is published exactly once.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.wasOffline = online
	status := Status{IsOnline: m.online, WasOffline: m.wasOffline}
	observers := make([]func(Status), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	slog.Info("connectivity changed",
		"component", "connectivity",
		"online", status.IsOnline,
	)
	for _, fn := range observers {
		fn(status)
	}
}

// OnChange registers fn for transition notifications. Observers run
// synchronously on the goroutine that called SetOnline and must not block.
// The returned function unregisters fn.
func (m *Monitor) OnChange(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}
