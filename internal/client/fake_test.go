package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/wire"
)

// fakeStream is an in-memory channel. Frames pushed with deliver come out of
// Recv; Send records everything the manager writes.
type fakeStream struct {
	ctx       context.Context
	in        chan *wire.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []*wire.Envelope
	sendErr error
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, in: make(chan *wire.Envelope, 64), closed: make(chan struct{})}
}

func (s *fakeStream) Send(env *wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeStream) Recv() (*wire.Envelope, error) {
	select {
	case env := <-s.in:
		return env, nil
	case <-s.closed:
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	s.in <- env
}

func (s *fakeStream) sentEvents() []*wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeTransport hands out fake streams. With authAs set, every stream starts
// with an authenticated frame.
type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	tokens  []string
	streams []*fakeStream
	openErr error
	authAs  string
}

func (f *fakeTransport) Open(ctx context.Context, token string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.tokens = append(f.tokens, token)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := newFakeStream(ctx)
	if f.authAs != "" {
		env, _ := wire.NewEnvelope(wire.EventAuthenticated, wire.Authenticated{UserID: f.authAs, UserName: f.authAs})
		s.in <- env
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeHistory struct {
	resp *wire.ListMessagesResponse
	err  error
	reqs []*wire.ListMessagesRequest
}

func (h *fakeHistory) ListMessages(_ context.Context, req *wire.ListMessagesRequest) (*wire.ListMessagesResponse, error) {
	h.reqs = append(h.reqs, req)
	if h.err != nil {
		return nil, h.err
	}
	return h.resp, nil
}

var errBoom = errors.New("boom")

// waitEvent reads from ch until an event of kind arrives.
func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
			return bus.Event{}
		}
	}
}

// eventually polls cond until it holds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
