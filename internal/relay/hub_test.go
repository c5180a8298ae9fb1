package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

func testChannel(h *Hub, userID string, buffer int) *Channel {
	return newChannel(h.newChannelID(), userID, "", buffer, zap.NewNop())
}

func TestHubRegisterReportsFirstAndLast(t *testing.T) {
	h := NewHub()
	a1 := testChannel(h, "alice", 1)
	a2 := testChannel(h, "alice", 1)

	if !h.Register(a1) {
		t.Error("first Register should report first")
	}
	if h.Register(a2) {
		t.Error("second Register should not report first")
	}
	if !h.Online("alice") || len(h.ChannelsOf("alice")) != 2 {
		t.Fatalf("alice channels = %d, want 2", len(h.ChannelsOf("alice")))
	}
	if h.Unregister(a1) {
		t.Error("Unregister with a channel left should not report last")
	}
	if h.Unregister(a1) {
		t.Error("repeated Unregister should be a no-op")
	}
	if !h.Unregister(a2) {
		t.Error("final Unregister should report last")
	}
	if h.Online("alice") {
		t.Error("alice still online")
	}
}

func TestHubLockUserIsPerUser(t *testing.T) {
	h := NewHub()
	unlock := h.LockUser("alice")

	// Another user is not held up.
	done := make(chan struct{})
	go func() {
		h.LockUser("bob")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bob waited on alice's guard")
	}

	acquired := make(chan struct{})
	go func() {
		u := h.LockUser("alice")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second LockUser(alice) did not wait")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("LockUser(alice) not released")
	}

	h.guardMu.Lock()
	n := len(h.guards)
	h.guardMu.Unlock()
	if n != 0 {
		t.Errorf("%d guards left for idle users", n)
	}
}

func TestHubRoomsAreDroppedWhenEmpty(t *testing.T) {
	h := NewHub()
	a := testChannel(h, "alice", 1)
	b := testChannel(h, "bob", 1)

	h.Join("c1", a)
	h.Join("c1", b)
	if n := len(h.Members("c1")); n != 2 {
		t.Fatalf("members = %d, want 2", n)
	}
	h.Leave("c1", a)
	h.Leave("c1", b)

	h.mu.RLock()
	n := len(h.rooms)
	h.mu.RUnlock()
	if n != 0 {
		t.Errorf("rooms = %d, want 0", n)
	}

	// A dropped room is recreated on the next join.
	h.Join("c1", a)
	if n := len(h.Members("c1")); n != 1 {
		t.Errorf("members after rejoin = %d, want 1", n)
	}
}

func TestHubSendToUser(t *testing.T) {
	h := NewHub()
	a1 := testChannel(h, "alice", 4)
	a2 := testChannel(h, "alice", 4)
	h.Register(a1)
	h.Register(a2)

	if n := h.SendToUser("alice", wire.EventUserOnline, wire.UserOnline{UserID: "bob"}); n != 2 {
		t.Errorf("SendToUser reached %d channels, want 2", n)
	}
	if n := h.SendToUser("nobody", wire.EventUserOnline, wire.UserOnline{UserID: "bob"}); n != 0 {
		t.Errorf("SendToUser(nobody) = %d, want 0", n)
	}
}

func TestSlowChannelIsClosed(t *testing.T) {
	h := NewHub()
	c := testChannel(h, "alice", 1)

	env, _ := wire.NewEnvelope(wire.EventUserOnline, wire.UserOnline{UserID: "bob"})
	if !c.Send(env) {
		t.Fatal("first frame should fit the buffer")
	}
	if c.Send(env) {
		t.Fatal("second frame should overflow")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("overflowing channel not closed")
	}
	if c.Send(env) {
		t.Error("closed channel accepted a frame")
	}
}

type recordingSender struct {
	got  chan *wire.Envelope
	fail bool
}

func (r *recordingSender) Send(env *wire.Envelope) error {
	if r.fail {
		return errors.New("broken")
	}
	r.got <- env
	return nil
}

func TestWriteLoop(t *testing.T) {
	h := NewHub()
	c := testChannel(h, "alice", 8)
	rs := &recordingSender{got: make(chan *wire.Envelope, 8)}
	done := make(chan struct{})
	go func() {
		c.writeLoop(rs)
		close(done)
	}()

	for _, ev := range []string{"a", "b", "c"} {
		c.emit(ev, nil)
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case env := <-rs.got:
			if env.Event != want {
				t.Fatalf("wrote %s, want %s", env.Event, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	c.Close()
	<-done
}

func TestWriteFailureClosesChannel(t *testing.T) {
	h := NewHub()
	c := testChannel(h, "alice", 8)
	c.emit("a", nil)
	c.writeLoop(&recordingSender{fail: true})
	select {
	case <-c.Done():
	default:
		t.Fatal("write failure did not close the channel")
	}
}
