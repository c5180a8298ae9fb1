package model

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/yarning/internal/client"
	"github.com/matheus3301/yarning/internal/presence"
	"github.com/matheus3301/yarning/internal/reconcile"
	"github.com/matheus3301/yarning/internal/status"
	"github.com/matheus3301/yarning/internal/typing"
	"github.com/matheus3301/yarning/internal/wire"
)

type fakeDirectory struct {
	mu      sync.Mutex
	convs   []wire.Conversation
	created [][]string
}

func (d *fakeDirectory) ListConversations(_ context.Context, limit int) ([]wire.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.convs), nil
}

func (d *fakeDirectory) CreateConversation(_ context.Context, ids []string) (*wire.CreateConversationResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, ids)
	c := wire.Conversation{ID: "c1", ParticipantIDs: append([]string{"alice"}, ids...)}
	d.convs = append(d.convs, c)
	return &wire.CreateConversationResponse{Conversation: c, Created: true}, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	reqs []wire.ListMessagesRequest
	page []wire.Message
}

func (h *fakeHistory) ListMessages(_ context.Context, req *wire.ListMessagesRequest) (*wire.ListMessagesResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqs = append(h.reqs, *req)
	return &wire.ListMessagesResponse{Messages: h.page, HasMore: true}, nil
}

func TestCreateReloadsConversations(t *testing.T) {
	dir := &fakeDirectory{}
	vm := NewViewModel(client.New(client.Options{}), dir)

	if _, err := vm.Create(context.Background(), nil); err == nil {
		t.Error("Create() without users should fail")
	}

	id, err := vm.Create(context.Background(), []string{"bob"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "c1" {
		t.Errorf("id = %q, want c1", id)
	}
	if convs := vm.Conversations(); len(convs) != 1 || convs[0].ID != "c1" {
		t.Errorf("Conversations() = %+v", convs)
	}
	if len(dir.created) != 1 || !slices.Equal(dir.created[0], []string{"bob"}) {
		t.Errorf("created = %v", dir.created)
	}

	select {
	case <-vm.RefreshCh():
	default:
		t.Error("no refresh signal after loading conversations")
	}
}

func TestOpenLoadsHistory(t *testing.T) {
	hist := &fakeHistory{page: []wire.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "one", Type: wire.TypeText, CreatedAt: 1000},
		{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "two", Type: wire.TypeText, CreatedAt: 2000},
	}}
	mgr := client.New(client.Options{History: hist})
	vm := NewViewModel(mgr, &fakeDirectory{})
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if vm.Active() != "c1" || mgr.ActiveConversation() != "c1" {
		t.Errorf("active = %q / %q, want c1", vm.Active(), mgr.ActiveConversation())
	}
	if got := vm.Messages(); len(got) != 2 || got[0].ID != "m1" {
		t.Fatalf("Messages() = %+v", got)
	}

	if err := vm.LoadOlder(ctx); err != nil {
		t.Fatalf("LoadOlder() error = %v", err)
	}
	if len(hist.reqs) != 2 {
		t.Fatalf("history requests = %d, want 2", len(hist.reqs))
	}
	if hist.reqs[0].Before != 0 || hist.reqs[1].Before != 1000 {
		t.Errorf("before = %d, %d; want 0, 1000", hist.reqs[0].Before, hist.reqs[1].Before)
	}
	if hist.reqs[0].BeforeID != "" || hist.reqs[1].BeforeID != "m1" {
		t.Errorf("before id = %q, %q; want empty, m1", hist.reqs[0].BeforeID, hist.reqs[1].BeforeID)
	}

	if err := vm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if vm.Active() != "" || vm.Messages() != nil {
		t.Error("conversation still active after Close")
	}
	if err := vm.Send("hello"); !errors.Is(err, client.ErrMissingConversation) {
		t.Errorf("Send() after Close error = %v, want ErrMissingConversation", err)
	}
}

func TestKeepConnectedGivesUpWithoutCredential(t *testing.T) {
	vm := NewViewModel(client.New(client.Options{}), &fakeDirectory{})

	done := make(chan struct{})
	go func() {
		vm.KeepConnected(context.Background(), time.Millisecond, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("KeepConnected kept retrying without a credential")
	}
	if msg, level := vm.Flash.Get(); msg == "" || level != FlashError {
		t.Errorf("flash = %q (%d), want an error", msg, level)
	}
}

func TestUnacked(t *testing.T) {
	msgs := []reconcile.Message{
		{ID: "m1", SenderID: "bob", Status: wire.StatusDelivered},
		{ID: "m2", SenderID: "alice", Status: wire.StatusSent},
		{ClientID: "tmp-1", SenderID: "bob", Status: wire.StatusSending},
		{ID: "m3", SenderID: "bob", Status: wire.StatusRead},
		{ID: "m4", SenderID: "bob", Status: wire.StatusSent},
	}
	got := Unacked(msgs, "alice", map[string]bool{"m4": true})
	if !slices.Equal(got, []string{"m1"}) {
		t.Errorf("Unacked() = %v, want [m1]", got)
	}
}

func TestConnectionLabel(t *testing.T) {
	self := wire.Authenticated{UserID: "alice", UserName: "Alice"}
	for _, s := range []status.State{status.Disconnected, status.Connecting, status.Connected, status.Error} {
		if got := ConnectionLabel(s, self, 0); got != "connecting…" {
			t.Errorf("ConnectionLabel(%s) = %q, want connecting…", s, got)
		}
	}
	if got := ConnectionLabel(status.Error, self, 3); got != "connecting… (3 queued)" {
		t.Errorf("queued label = %q", got)
	}
	if got := ConnectionLabel(status.Authenticated, self, 0); got != "online as Alice" {
		t.Errorf("authenticated label = %q", got)
	}
	if got := ConnectionLabel(status.Authenticated, wire.Authenticated{UserID: "alice"}, 0); got != "online as alice" {
		t.Errorf("label without name = %q", got)
	}
}

func TestTypingLine(t *testing.T) {
	tests := []struct {
		users []typing.User
		want  string
	}{
		{nil, ""},
		{[]typing.User{{UserID: "bob", UserName: "Bob"}}, "Bob is typing…"},
		{[]typing.User{{UserID: "bob"}, {UserID: "carol", UserName: "Carol"}}, "bob and Carol are typing…"},
		{[]typing.User{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}, "3 people are typing…"},
	}
	for _, tt := range tests {
		if got := TypingLine(tt.users); got != tt.want {
			t.Errorf("TypingLine(%v) = %q, want %q", tt.users, got, tt.want)
		}
	}
}

func TestPresenceMark(t *testing.T) {
	if got := PresenceMark(presence.Entry{}, false); got != "" {
		t.Errorf("unknown = %q", got)
	}
	if got := PresenceMark(presence.Entry{Online: true}, true); got != " ●" {
		t.Errorf("online = %q", got)
	}
	if got := PresenceMark(presence.Entry{}, true); got != " ○" {
		t.Errorf("offline = %q", got)
	}
	seen := time.Date(2026, 3, 10, 18, 4, 0, 0, time.Local)
	if got := PresenceMark(presence.Entry{LastSeen: seen}, true); got != " (seen Mar 10 18:04)" {
		t.Errorf("last seen = %q", got)
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(100, 0)
	f := Flash{now: func() time.Time { return now }}

	f.Set(FlashError, "boom", time.Second)
	if msg, level := f.Get(); msg != "boom" || level != FlashError {
		t.Errorf("Get() = %q, %d", msg, level)
	}
	now = now.Add(2 * time.Second)
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("Get() after expiry = %q", msg)
	}
}
