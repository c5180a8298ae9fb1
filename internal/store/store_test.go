package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/yarning/internal/wire"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConversation(t *testing.T, db *DB, ids ...string) Conversation {
	t.Helper()
	c, _, err := db.CreateConversation(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + reads)", result.Version)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	result, err := db.MigrateTo(1)
	if err != nil {
		t.Fatal(err)
	}
	if result.From != 2 || result.Version != 1 || !result.Changed {
		t.Errorf("MigrateTo(1) = %+v, want 2 -> 1", result)
	}
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM message_reads"); err == nil {
		t.Error("message_reads still exists at version 1")
	}

	result, err = db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.From != 1 || result.Version != 2 {
		t.Errorf("Migrate() = %+v, want 1 -> 2", result)
	}
	if _, err := db.GetConversation(ctx, c.ID); err != nil {
		t.Errorf("conversation lost across schema change: %v", err)
	}
}

func TestCreateConversationFindsExisting(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	c, created, err := db.CreateConversation(ctx, []string{"bob", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first create reported existing")
	}
	if len(c.ParticipantIDs) != 2 || c.ParticipantIDs[0] != "alice" {
		t.Errorf("participants = %v, want sorted [alice bob]", c.ParticipantIDs)
	}

	again, created, err := db.CreateConversation(ctx, []string{"alice", "bob", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != c.ID {
		t.Errorf("second create = %s created=%v, want existing %s", again.ID, created, c.ID)
	}

	if _, _, err := db.CreateConversation(ctx, []string{"alice", " alice "}); !errors.Is(err, ErrInvalid) {
		t.Errorf("single participant create error = %v, want ErrInvalid", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetConversation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestIsParticipant(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	tests := []struct {
		conv, user string
		want       bool
		err        error
	}{
		{c.ID, "alice", true, nil},
		{c.ID, "mallory", false, nil},
		{"missing", "alice", false, ErrNotFound},
	}
	for _, tt := range tests {
		got, err := db.IsParticipant(ctx, tt.conv, tt.user)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("IsParticipant(%s, %s) = %v, %v; want %v, %v", tt.conv, tt.user, got, err, tt.want, tt.err)
		}
	}
}

func TestInsertMessageIdempotentOnClientID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	m, created, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", ClientID: "tmp-1", Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !created || m.ID == "" || m.Status != wire.StatusSent || m.Type != wire.TypeText {
		t.Fatalf("inserted = %+v created=%v", m, created)
	}

	again, created, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", ClientID: "tmp-1", Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != m.ID {
		t.Errorf("retry = %s created=%v, want original %s", again.ID, created, m.ID)
	}

	// Another sender may reuse the same correlation id.
	if _, created, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "bob", ClientID: "tmp-1", Content: "hi"}); err != nil || !created {
		t.Errorf("other sender insert = %v created=%v", err, created)
	}

	// The same sender reusing it elsewhere must not get this message back.
	other := testConversation(t, db, "alice", "carol")
	if got, _, err := db.InsertMessage(ctx, Message{ConversationID: other.ID, SenderID: "alice", ClientID: "tmp-1", Content: "hey"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("reuse in another conversation = %+v, %v; want ErrInvalid", got, err)
	}

	msgs, _, err := db.ListMessages(ctx, c.ID, wire.Cursor{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}

	conv, err := db.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageAt == 0 {
		t.Error("last_message_at not updated")
	}
}

func TestInsertMessageRejectsOutsider(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	if _, _, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "mallory", Content: "x"}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("error = %v, want ErrNotParticipant", err)
	}
	if _, _, err := db.InsertMessage(ctx, Message{ConversationID: "missing", SenderID: "alice", Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListMessagesPaginates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	for i := int64(1); i <= 5; i++ {
		if _, _, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", Content: "m", CreatedAt: i * 1000}); err != nil {
			t.Fatal(err)
		}
	}

	page, more, err := db.ListMessages(ctx, c.ID, wire.Cursor{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !more || len(page) != 2 {
		t.Fatalf("first page = %d more=%v, want 2 true", len(page), more)
	}
	if page[0].CreatedAt != 4000 || page[1].CreatedAt != 5000 {
		t.Errorf("first page = %d, %d; want oldest-first 4000, 5000", page[0].CreatedAt, page[1].CreatedAt)
	}

	page, more, err = db.ListMessages(ctx, c.ID, wire.Cursor{CreatedAt: page[0].CreatedAt, ID: page[0].ID}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if more || len(page) != 3 || page[0].CreatedAt != 1000 {
		t.Errorf("second page = %+v more=%v", page, more)
	}
}

func TestListMessagesSplitsSameMillisecond(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")

	for range 3 {
		if _, _, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", Content: "m", CreatedAt: 1000}); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]bool)
	var before wire.Cursor
	for pages := 0; ; pages++ {
		if pages > 3 {
			t.Fatal("pagination did not terminate")
		}
		page, more, err := db.ListMessages(ctx, c.ID, before, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range page {
			if seen[m.ID] {
				t.Errorf("message %s listed twice", m.ID)
			}
			seen[m.ID] = true
		}
		if !more {
			break
		}
		before = wire.Cursor{CreatedAt: page[0].CreatedAt, ID: page[0].ID}
	}
	if len(seen) != 3 {
		t.Errorf("paged through %d messages, want 3", len(seen))
	}
}

func TestReceiptsMoveForward(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")
	m, _, err := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}

	read, err := db.MarkRead(ctx, c.ID, "bob", []string{m.ID, "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 1 || read[0].ID != m.ID || read[0].SenderID != "alice" {
		t.Fatalf("read = %+v", read)
	}

	changed, err := db.MarkDelivered(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("MarkDelivered after read reported a change")
	}
	got, err := db.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != wire.StatusRead {
		t.Errorf("status = %s, want read", got.Status)
	}

	read, err = db.MarkRead(ctx, c.ID, "bob", []string{m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 0 {
		t.Errorf("second MarkRead returned %d messages, want 0", len(read))
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")
	m, _, _ := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", Content: "x"})

	read, err := db.MarkRead(ctx, c.ID, "alice", []string{m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 0 {
		t.Errorf("sender read own message: %+v", read)
	}
	if _, err := db.MarkRead(ctx, c.ID, "mallory", []string{m.ID}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider MarkRead error = %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := testConversation(t, db, "alice", "bob")
	m, _, _ := db.InsertMessage(ctx, Message{ConversationID: c.ID, SenderID: "alice", Content: "oops"})

	if _, err := db.DeleteMessage(ctx, c.ID, m.ID, "bob"); !errors.Is(err, ErrNotSender) {
		t.Errorf("delete by bob = %v, want ErrNotSender", err)
	}
	if _, err := db.DeleteMessage(ctx, "other", m.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete in wrong conversation = %v, want ErrNotFound", err)
	}

	deleted, err := db.DeleteMessage(ctx, c.ID, m.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if deleted.DeletedAt == 0 {
		t.Error("DeletedAt not set")
	}
	again, err := db.DeleteMessage(ctx, c.ID, m.ID, "alice")
	if err != nil || again.DeletedAt != deleted.DeletedAt {
		t.Errorf("repeat delete = %+v, %v", again, err)
	}

	msgs, _, err := db.ListMessages(ctx, c.ID, wire.Cursor{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("deleted message listed: %+v", msgs)
	}
}

func TestListConversationsAndPeers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	older := testConversation(t, db, "alice", "bob")
	newer := testConversation(t, db, "alice", "carol")
	testConversation(t, db, "bob", "dave")

	if _, _, err := db.InsertMessage(ctx, Message{ConversationID: older.ID, SenderID: "bob", Content: "x", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.InsertMessage(ctx, Message{ConversationID: newer.ID, SenderID: "carol", Content: "y", CreatedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != newer.ID {
		t.Errorf("first conversation = %s, want most recent %s", convs[0].ID, newer.ID)
	}
	if len(convs[0].ParticipantIDs) != 2 || convs[0].ParticipantIDs[1] != "carol" {
		t.Errorf("participants = %v", convs[0].ParticipantIDs)
	}

	peers, err := db.Peers(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 || peers[0] != "bob" || peers[1] != "carol" {
		t.Errorf("peers = %v, want [bob carol]", peers)
	}
}

func TestUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.GetUser(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser before insert = %v", err)
	}
	if err := db.EnsureUser(ctx, "alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureUser(ctx, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastSeen(ctx, "alice", 5000); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastSeen(ctx, "alice", 4000); err != nil {
		t.Fatal(err)
	}
	u, err := db.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Alice" || u.LastSeen != 5000 {
		t.Errorf("user = %+v, want Alice lastSeen 5000", u)
	}
}

func TestParticipantKey(t *testing.T) {
	ids, key := ParticipantKey([]string{" b", "a", "b", ""})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v", ids)
	}
	if _, other := ParticipantKey([]string{"b", "a"}); other != key {
		t.Errorf("keys differ: %q vs %q", key, other)
	}
}
