package status

import (
	"testing"

	"github.com/matheus3301/yarning/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want disconnected", m.Current())
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true in initial state")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Disconnected, Error},
		{Connecting, Connected},
		{Connecting, Error},
		{Connecting, Disconnected},
		{Connected, Authenticated},
		{Connected, Error},
		{Authenticated, Error},
		{Authenticated, Disconnected},
		{Error, Connecting},
		{Error, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Authenticated},
		{Disconnected, Connected},
		{Connecting, Authenticated},
		{Authenticated, Connecting},
		{Error, Authenticated},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want disconnected -> connecting", change.From, change.To)
	}
}

// TestHandlerCanReadCurrent verifies that a synchronous handler observes the
// new state and does not deadlock on the machine lock.
func TestHandlerCanReadCurrent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	var seen []State
	b.Handle(bus.KindStateChanged, func(bus.Event) {
		seen = append(seen, m.Current())
	})

	walkTo(t, m, Authenticated)

	want := []State{Connecting, Connected, Authenticated}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestTransitionFrom(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)

	if m.TransitionFrom(Connected, Authenticated) {
		t.Error("TransitionFrom(connected) succeeded while connecting")
	}
	if !m.TransitionFrom(Connecting, Connected) {
		t.Error("TransitionFrom(connecting -> connected) failed")
	}
	if m.Current() != Connected {
		t.Errorf("state = %s, want connected", m.Current())
	}
}

// TestFullConnectLifecycle walks disconnected → connecting → connected →
// authenticated → error → connecting (reconnect) → ... → disconnected.
func TestFullConnectLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Connected, Authenticated, Error, Connecting, Connected, Authenticated, Disconnected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if !m.CanConnect() {
		t.Error("CanConnect() = false after disconnect")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:  {},
		Connecting:    {Connecting},
		Connected:     {Connecting, Connected},
		Authenticated: {Connecting, Connected, Authenticated},
		Error:         {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
