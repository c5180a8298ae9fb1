package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/yarning/internal/bus"
)

// State represents the connection state of one client instance.
type State string

const (
	Disconnected  State = "disconnected"
	Connecting    State = "connecting"
	Connected     State = "connected"
	Authenticated State = "authenticated"
	Error         State = "error"
)

// validTransitions defines allowed state transitions. Any state may fall to
// Error on a transport failure or to Disconnected on a deliberate disconnect.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting, Error},
	Connecting:    {Connected, Error, Disconnected},
	Connected:     {Authenticated, Error, Disconnected},
	Authenticated: {Error, Disconnected},
	Error:         {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the machine is ready for application traffic.
func (m *Machine) IsConnected() bool {
	return m.Current() == Authenticated
}

// CanConnect reports whether connect may be started from the current state.
func (m *Machine) CanConnect() bool {
	cur := m.Current()
	return cur == Disconnected || cur == Error
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// The change is published after the lock is released so subscribers may read
// Current from their handlers.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.publish(from, to)
	return nil
}

// TransitionFrom moves to a new state only if the machine is still in from.
// It reports whether the transition happened.
func (m *Machine) TransitionFrom(from, to State) bool {
	m.mu.Lock()
	if m.current != from || !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return false
	}
	m.current = to
	m.mu.Unlock()

	m.publish(from, to)
	return true
}

func (m *Machine) publish(from, to State) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.KindStateChanged,
		Timestamp: time.Now(),
		Payload: StatusChange{
			From: from,
			To:   to,
		},
	})
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
