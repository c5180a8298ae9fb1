// Package client implements the connection manager: one channel to the
// relay, the connection state machine, the outbound queue, and the local
// projections (presence, message lists, typing) fed by relay events.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/outbound"
	"github.com/matheus3301/yarning/internal/presence"
	"github.com/matheus3301/yarning/internal/reconcile"
	"github.com/matheus3301/yarning/internal/status"
	"github.com/matheus3301/yarning/internal/typing"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

// Stream is one open channel to the relay. Send is only called with the
// manager lock held; Recv is only called from the read loop.
type Stream interface {
	Send(*wire.Envelope) error
	Recv() (*wire.Envelope, error)
	Close() error
}

// Transport opens channels. The stream must stay usable until ctx is
// cancelled or Close is called.
type Transport interface {
	Open(ctx context.Context, token string) (Stream, error)
}

// TokenSource resolves the bearer token for a connect attempt. An empty
// token means no credential is available.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// History loads persisted messages for page load and scrollback.
type History interface {
	ListMessages(ctx context.Context, req *wire.ListMessagesRequest) (*wire.ListMessagesResponse, error)
}

// Options configures a Manager.
type Options struct {
	Transport  Transport
	Token      TokenSource
	History    History
	Bus        *bus.Bus
	Logger     *zap.Logger
	QueueLimit int
	TypingIdle time.Duration
	// Scheduler drives the typing idle timer; nil uses the wall clock.
	Scheduler typing.Scheduler
}

// session is one channel's lifetime, from open to read loop exit.
type session struct {
	stream   Stream
	cancel   context.CancelFunc
	authed   chan struct{}
	authOnce sync.Once
	done     chan struct{}
	err      error
}

// Manager owns one client's connection to the relay. Construct one per
// running client and share it.
type Manager struct {
	transport Transport
	token     TokenSource
	history   History
	bus       *bus.Bus
	logger    *zap.Logger

	state    *status.Machine
	queue    *outbound.Queue
	presence *presence.Cache
	book     *reconcile.Book
	typing   *typing.Controller
	remote   *typing.Tracker

	// mu orders writes to the stream against queue flushes.
	mu     sync.Mutex
	cur    *session
	ready  bool
	rejoin bool
	self   wire.Authenticated
	active string
	left   string
}

// New creates a disconnected manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	m := &Manager{
		transport: opts.Transport,
		token:     opts.Token,
		history:   opts.History,
		bus:       b,
		logger:    logger,
		state:     status.NewMachine(b),
		queue:     outbound.New(opts.QueueLimit),
		presence:  presence.NewCache(),
		book:      reconcile.NewBook(),
		remote:    typing.NewTracker(),
	}
	m.typing = typing.NewController(m.typingSignal, opts.TypingIdle, opts.Scheduler)
	return m
}

// Bus returns the bus state and domain events are published on.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// State returns the current connection state.
func (m *Manager) State() status.State { return m.state.Current() }

// IsConnected reports whether the channel is authenticated.
func (m *Manager) IsConnected() bool { return m.state.IsConnected() }

// Self returns the identity confirmed by the relay on the last authentication.
func (m *Manager) Self() wire.Authenticated {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Pending returns the number of buffered operations.
func (m *Manager) Pending() int { return m.queue.Len() }

// Connect opens a channel and waits until the relay confirms the identity.
// Without a credential it fails into the error state without opening a
// transport. Cancelling ctx aborts the attempt and leaves the manager in
// error; once Connect returns nil, ctx no longer affects the channel.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.state.CanConnect() {
		return ErrAlreadyConnected
	}

	token, err := m.resolveToken(ctx)
	if err != nil {
		m.fail()
		m.logger.Warn("connect without credential", zap.Error(err))
		return err
	}

	if err := m.state.Transition(status.Connecting); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	stream, err := m.transport.Open(sctx, token)
	if err != nil {
		cancel()
		m.state.TransitionFrom(status.Connecting, status.Error)
		return m.connectErr(ctx, err)
	}

	s := &session{
		stream: stream,
		cancel: cancel,
		authed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if !m.state.TransitionFrom(status.Connecting, status.Connected) {
		m.closeSession(s)
		return ErrDisconnected
	}
	m.mu.Lock()
	if m.state.Current() != status.Connected {
		m.mu.Unlock()
		m.closeSession(s)
		return ErrDisconnected
	}
	m.cur = s
	m.mu.Unlock()

	go m.readLoop(s)

	select {
	case <-s.authed:
		m.logger.Info("channel authenticated")
		return nil
	case <-s.done:
		return m.connectErr(ctx, s.err)
	case <-ctx.Done():
		<-s.done
		return ctx.Err()
	}
}

// Reconnect re-runs Connect from the disconnected or error state.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.state.CanConnect() {
		return ErrAlreadyConnected
	}
	m.logger.Info("reconnecting", zap.String("from", string(m.state.Current())))
	return m.Connect(ctx)
}

// Disconnect stops typing everywhere, closes the channel and moves to
// disconnected. Buffered operations are kept for the next connect.
func (m *Manager) Disconnect() {
	m.typing.StopAll()

	m.mu.Lock()
	s := m.cur
	m.cur = nil
	m.ready = false
	if m.active != "" {
		m.rejoin = true
	}
	m.mu.Unlock()

	if s != nil {
		m.closeSession(s)
	}
	m.forgetPeers()
	if m.state.Current() != status.Disconnected {
		if err := m.state.Transition(status.Disconnected); err != nil {
			m.logger.Warn("disconnect transition", zap.Error(err))
		}
	}
}

// Emit writes an operation to the channel when authenticated and buffers it
// otherwise. It never waits for a relay response.
func (m *Manager) Emit(event string, payload any) error {
	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready && m.cur != nil {
		err := m.cur.stream.Send(env)
		if err == nil {
			return nil
		}
		m.ready = false
		m.logger.Warn("write failed, buffering", zap.String("event", event), zap.Error(err))
	}
	if old, dropped := m.queue.Push(env); dropped {
		m.logger.Warn("outbound queue full, dropped oldest",
			zap.String("dropped_event", old.Envelope.Event),
			zap.Duration("age", time.Since(old.QueuedAt)),
			zap.Int("dropped_total", m.queue.Dropped()))
	}
	return nil
}

func (m *Manager) resolveToken(ctx context.Context) (string, error) {
	if m.token == nil {
		return "", ErrNoCredential
	}
	token, err := m.token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// fail moves to error unless already there.
func (m *Manager) fail() {
	if m.state.Current() == status.Error {
		return
	}
	if err := m.state.Transition(status.Error); err != nil {
		m.logger.Debug("error transition", zap.Error(err))
	}
}

func (m *Manager) connectErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.state.Current() == status.Disconnected {
		return ErrDisconnected
	}
	if err == nil {
		err = errors.New("channel closed before authentication")
	}
	return fmt.Errorf("connect: %w", err)
}

func (m *Manager) closeSession(s *session) {
	if err := s.stream.Close(); err != nil {
		m.logger.Debug("close stream", zap.Error(err))
	}
	s.cancel()
}

func (m *Manager) readLoop(s *session) {
	defer close(s.done)
	for {
		env, err := s.stream.Recv()
		if err != nil {
			s.err = err
			m.channelLost(s, err)
			return
		}
		m.dispatch(s, env)
	}
}

// channelLost handles a read failure. A session already detached by
// Disconnect is ignored, so a deliberate close never passes through error.
func (m *Manager) channelLost(s *session, err error) {
	m.mu.Lock()
	if m.cur != s {
		m.mu.Unlock()
		return
	}
	m.cur = nil
	m.ready = false
	if m.active != "" {
		m.rejoin = true
	}
	m.mu.Unlock()

	s.cancel()
	m.logger.Warn("channel lost", zap.Error(err))
	m.forgetPeers()
	m.fail()
}

// forgetPeers drops the presence and remote typing learned on a channel that
// is gone. It runs before the state leaves connected so a new channel cannot
// report peers that are then wiped; the relay replays who is online after
// the next authentication.
func (m *Manager) forgetPeers() {
	for _, id := range m.presence.Reset() {
		m.publish(bus.KindPresenceChanged, PresenceChanged{UserID: id})
	}
	for _, conv := range m.remote.Reset() {
		m.publishTyping(conv)
	}
}

func (m *Manager) current(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur == s
}

// authenticate flushes the queue and marks the channel ready. The flush and
// the ready flag change under one lock so no Emit can overtake a buffered
// operation.
func (m *Manager) authenticate(s *session, who wire.Authenticated) {
	m.mu.Lock()
	if m.cur != s {
		m.mu.Unlock()
		return
	}
	m.self = who
	ok := true
	if m.rejoin && m.active != "" {
		env, err := wire.NewEnvelope(wire.EventJoinConversation, wire.JoinConversation{ConversationID: m.active})
		if err == nil {
			ok = s.stream.Send(env) == nil
		}
	}
	m.rejoin = false
	if ok {
		ok = m.flushLocked(s)
	}
	m.ready = ok
	m.mu.Unlock()

	m.state.TransitionFrom(status.Connected, status.Authenticated)
	m.logger.Info("authenticated", zap.String("user_id", who.UserID))
	s.authOnce.Do(func() { close(s.authed) })
}

func (m *Manager) flushLocked(s *session) bool {
	ops := m.queue.Drain()
	for i, op := range ops {
		if err := s.stream.Send(op.Envelope); err != nil {
			m.queue.Requeue(ops[i:])
			m.logger.Warn("flush interrupted", zap.Int("remaining", len(ops)-i), zap.Error(err))
			return false
		}
	}
	if len(ops) > 0 {
		m.logger.Debug("flushed outbound queue", zap.Int("count", len(ops)))
	}
	return true
}

func (m *Manager) publish(kind string, payload any) {
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
