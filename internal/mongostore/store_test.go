package mongostore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
)

// testStore connects to MONGODB_URI using a throwaway database.
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}
	name := "yarning_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s, err := Open(context.Background(), uri, name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c1, created, err := s.CreateConversation(ctx, []string{"bob", "alice"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	c2, created, err := s.CreateConversation(ctx, []string{"alice", "bob", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if created || c2.ID != c1.ID {
		t.Errorf("second create = %s created=%v, want %s existing", c2.ID, created, c1.ID)
	}
	if _, _, err := s.CreateConversation(ctx, []string{"alice"}); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("single participant err = %v, want ErrInvalid", err)
	}
}

func TestInsertMessageDedupesByClientID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	c, _, _ := s.CreateConversation(ctx, []string{"alice", "bob"})

	m := store.Message{ConversationID: c.ID, SenderID: "alice", ClientID: "tmp-1", Content: "hi"}
	first, created, err := s.InsertMessage(ctx, m)
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	if first.Status != wire.StatusSent || first.Type != wire.TypeText {
		t.Errorf("inserted = %+v, want sent text", first)
	}
	again, created, err := s.InsertMessage(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != first.ID {
		t.Errorf("retry = %s created=%v, want %s existing", again.ID, created, first.ID)
	}

	other, _, _ := s.CreateConversation(ctx, []string{"alice", "carol"})
	reused := m
	reused.ConversationID = other.ID
	if _, _, err := s.InsertMessage(ctx, reused); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("reuse in another conversation err = %v, want ErrInvalid", err)
	}

	if _, _, err := s.InsertMessage(ctx, store.Message{ConversationID: c.ID, SenderID: "mallory", Content: "x"}); !errors.Is(err, store.ErrNotParticipant) {
		t.Errorf("outsider err = %v, want ErrNotParticipant", err)
	}
}

func TestListMessagesPages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	c, _, _ := s.CreateConversation(ctx, []string{"alice", "bob"})

	for i := int64(1); i <= 5; i++ {
		if _, _, err := s.InsertMessage(ctx, store.Message{
			ConversationID: c.ID, SenderID: "alice", Content: "m", CreatedAt: i * 1000,
		}); err != nil {
			t.Fatal(err)
		}
	}

	page, more, err := s.ListMessages(ctx, c.ID, wire.Cursor{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || !more {
		t.Fatalf("page = %d more=%v, want 3 true", len(page), more)
	}
	if page[0].CreatedAt != 3000 || page[2].CreatedAt != 5000 {
		t.Errorf("page order = %d..%d, want 3000..5000", page[0].CreatedAt, page[2].CreatedAt)
	}

	older, more, err := s.ListMessages(ctx, c.ID, wire.Cursor{CreatedAt: page[0].CreatedAt, ID: page[0].ID}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || more {
		t.Errorf("older = %d more=%v, want 2 false", len(older), more)
	}

	// Siblings sharing the cursor's millisecond stay reachable.
	d, _, _ := s.CreateConversation(ctx, []string{"alice", "dave"})
	for range 3 {
		if _, _, err := s.InsertMessage(ctx, store.Message{ConversationID: d.ID, SenderID: "alice", Content: "m", CreatedAt: 7000}); err != nil {
			t.Fatal(err)
		}
	}
	first, _, _ := s.ListMessages(ctx, d.ID, wire.Cursor{}, 2)
	rest, _, err := s.ListMessages(ctx, d.ID, wire.Cursor{CreatedAt: first[0].CreatedAt, ID: first[0].ID}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(rest) != 1 || rest[0].ID == first[0].ID || rest[0].ID == first[1].ID {
		t.Errorf("same-millisecond pages = %d + %d", len(first), len(rest))
	}
}

func TestReceiptsAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	c, _, _ := s.CreateConversation(ctx, []string{"alice", "bob"})
	m, _, _ := s.InsertMessage(ctx, store.Message{ConversationID: c.ID, SenderID: "alice", Content: "hi"})

	changed, err := s.MarkDelivered(ctx, m.ID)
	if err != nil || !changed {
		t.Fatalf("MarkDelivered: changed=%v err=%v", changed, err)
	}

	if read, _ := s.MarkRead(ctx, c.ID, "alice", []string{m.ID}); len(read) != 0 {
		t.Errorf("own read = %d, want 0", len(read))
	}
	read, err := s.MarkRead(ctx, c.ID, "bob", []string{m.ID, "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 1 || read[0].Status != wire.StatusRead {
		t.Fatalf("read = %+v, want one read message", read)
	}
	if again, _ := s.MarkRead(ctx, c.ID, "bob", []string{m.ID}); len(again) != 0 {
		t.Errorf("repeat read = %d, want 0", len(again))
	}
	if changed, _ := s.MarkDelivered(ctx, m.ID); changed {
		t.Error("MarkDelivered moved a read message backwards")
	}

	if _, err := s.DeleteMessage(ctx, c.ID, m.ID, "bob"); !errors.Is(err, store.ErrNotSender) {
		t.Errorf("delete by peer err = %v, want ErrNotSender", err)
	}
	deleted, err := s.DeleteMessage(ctx, c.ID, m.ID, "alice")
	if err != nil || deleted.DeletedAt == 0 {
		t.Fatalf("delete: %+v err=%v", deleted, err)
	}
	page, _, _ := s.ListMessages(ctx, c.ID, wire.Cursor{}, 10)
	if len(page) != 0 {
		t.Errorf("history after delete = %d, want 0", len(page))
	}
}

func TestUsersAndPeers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, _, _ = s.CreateConversation(ctx, []string{"alice", "bob"})
	_, _, _ = s.CreateConversation(ctx, []string{"alice", "carol"})

	peers, err := s.Peers(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 || peers[0] != "bob" || peers[1] != "carol" {
		t.Errorf("peers = %v, want [bob carol]", peers)
	}

	if err := s.EnsureUser(ctx, "alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureUser(ctx, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastSeen(ctx, "alice", 2000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastSeen(ctx, "alice", 1000); err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Alice" || u.LastSeen != 2000 {
		t.Errorf("user = %+v, want Alice last seen 2000", u)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetUser(nobody) err = %v, want ErrNotFound", err)
	}
}
