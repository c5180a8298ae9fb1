package relay

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/yarning/internal/auth"
	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
	"google.golang.org/grpc/metadata"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConversation(t *testing.T, db *store.DB, ids ...string) string {
	t.Helper()
	c, _, err := db.CreateConversation(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	return c.ID
}

// fakeConn is the relay side of a channel driven by a test.
type fakeConn struct {
	ctx    context.Context
	cancel context.CancelFunc
	in     chan *wire.Envelope
	out    chan *wire.Envelope
	result chan error
}

func (f *fakeConn) Context() context.Context { return f.ctx }

func (f *fakeConn) Send(env *wire.Envelope) error {
	select {
	case f.out <- env:
		return nil
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

func (f *fakeConn) Recv() (*wire.Envelope, error) {
	select {
	case env, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return env, nil
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeConn) SetHeader(metadata.MD) error  { return nil }
func (f *fakeConn) SendHeader(metadata.MD) error { return nil }
func (f *fakeConn) SetTrailer(metadata.MD)       {}
func (f *fakeConn) SendMsg(m any) error          { return f.Send(m.(*wire.Envelope)) }
func (f *fakeConn) RecvMsg(m any) error {
	env, err := f.Recv()
	if err != nil {
		return err
	}
	*m.(*wire.Envelope) = *env
	return nil
}

// hangUp closes the client's write side, as a graceful close does.
func (f *fakeConn) hangUp(t *testing.T) {
	t.Helper()
	close(f.in)
	select {
	case <-f.result:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after hang up")
	}
}

func (f *fakeConn) emit(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	f.in <- env
}

// expect returns the next frame of the given event, skipping others.
func (f *fakeConn) expect(t *testing.T, event string, v any) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-f.out:
			if env.Event != event {
				continue
			}
			if v != nil {
				if err := env.Decode(v); err != nil {
					t.Fatal(err)
				}
			}
			return
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// expectNone fails if a frame of the given event arrives within d.
func (f *fakeConn) expectNone(t *testing.T, event string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case env := <-f.out:
			if env.Event == event {
				t.Fatalf("unexpected %s: %s", event, env.Payload)
			}
		case <-timeout:
			return
		}
	}
}

// connect opens an authenticated channel for userID and waits for the
// authenticated frame.
func connect(t *testing.T, s *Service, userID string) *fakeConn {
	t.Helper()
	ctx, cancel := context.WithCancel(auth.WithClaims(context.Background(), &auth.Claims{UserID: userID, UserName: userID + "-name"}))
	f := &fakeConn{
		ctx:    ctx,
		cancel: cancel,
		in:     make(chan *wire.Envelope),
		out:    make(chan *wire.Envelope, 128),
		result: make(chan error, 1),
	}
	go func() { f.result <- s.Connect(f) }()
	t.Cleanup(cancel)

	var p wire.Authenticated
	f.expect(t, wire.EventAuthenticated, &p)
	if p.UserID != userID {
		t.Fatalf("authenticated as %q, want %q", p.UserID, userID)
	}
	return f
}

// join joins a conversation and waits until the hub registered it.
func join(t *testing.T, s *Service, f *fakeConn, conversationID string) {
	t.Helper()
	before := len(s.hub.Members(conversationID))
	f.emit(t, wire.EventJoinConversation, wire.JoinConversation{ConversationID: conversationID})
	deadline := time.Now().Add(2 * time.Second)
	for len(s.hub.Members(conversationID)) <= before {
		if time.Now().After(deadline) {
			t.Fatalf("join %s not registered", conversationID)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func authCtx(userID string) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{UserID: userID})
}
