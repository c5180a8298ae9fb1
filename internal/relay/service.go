// Package relay is the authoritative side of the messaging core: it accepts
// authenticated channels, routes conversation events between them, persists
// messages with their delivery and read state, and broadcasts presence.
package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/matheus3301/yarning/internal/auth"
	"github.com/matheus3301/yarning/internal/ratelimit"
	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config tunes a Service.
type Config struct {
	// MaxContentLength bounds message content in characters.
	MaxContentLength int
	// ChannelBuffer is the per-channel outbound frame buffer.
	ChannelBuffer int
}

// Service implements wire.RelayServer.
type Service struct {
	store   Store
	hub     *Hub
	limiter *ratelimit.Store
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

var _ wire.RelayServer = (*Service)(nil)

// NewService builds a relay. A nil limiter disables send rate limiting.
func NewService(st Store, hub *Hub, limiter *ratelimit.Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = wire.MaxContentLength
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultChannelBuffer
	}
	return &Service{
		store:   st,
		hub:     hub,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Hub returns the channel registry.
func (s *Service) Hub() *Hub { return s.hub }

// Connect serves one channel for its whole life.
func (s *Service) Connect(stream wire.RelayConnectServer) error {
	ctx := stream.Context()
	claims, ok := auth.ClaimsFrom(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.store.EnsureUser(ctx, claims.UserID, claims.UserName); err != nil {
		s.logger.Error("record user", zap.String("user_id", claims.UserID), zap.Error(err))
		return status.Error(codes.Internal, "record user")
	}

	ch := newChannel(s.hub.newChannelID(), claims.UserID, claims.UserName, s.cfg.ChannelBuffer, s.logger)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ch.writeLoop(stream)
	}()

	ch.emit(wire.EventAuthenticated, wire.Authenticated{UserID: ch.userID, UserName: claims.UserName})
	unlock := s.hub.LockUser(ch.userID)
	first := s.hub.Register(ch)
	ch.logger.Info("channel opened", zap.Bool("first", first))
	s.announceOnline(ctx, ch, first)
	unlock()

	frames := make(chan *wire.Envelope)
	recvErr := make(chan error, 1)
	go func() {
		for {
			env, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- env:
			case <-ch.done:
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case env := <-frames:
			s.handle(ctx, ch, env)
		case err = <-recvErr:
			break loop
		case <-ch.done:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	s.closeChannel(ch)
	<-writerDone

	if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}

// closeChannel unregisters a channel and, when it was the user's last one,
// records last seen and tells peers the user went offline. The user's guard
// is held throughout so a channel opening meanwhile announces itself after
// the offline broadcast.
func (s *Service) closeChannel(ch *Channel) {
	if conv := ch.setConversation(""); conv != "" {
		s.hub.Leave(conv, ch)
	}
	unlock := s.hub.LockUser(ch.userID)
	defer unlock()
	last := s.hub.Unregister(ch)
	ch.Close()
	ch.logger.Info("channel closed", zap.Bool("last", last))
	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seen := s.now().UnixMilli()
	if err := s.store.SetLastSeen(ctx, ch.userID, seen); err != nil {
		s.logger.Warn("record last seen", zap.String("user_id", ch.userID), zap.Error(err))
	}
	peers, err := s.store.Peers(ctx, ch.userID)
	if err != nil {
		s.logger.Warn("list peers", zap.String("user_id", ch.userID), zap.Error(err))
		return
	}
	for _, p := range peers {
		s.hub.SendToUser(p, wire.EventUserOffline, wire.UserOffline{UserID: ch.userID, LastSeen: seen})
	}
}

// announceOnline tells peers a user came online and seeds the new channel
// with the peers that already are.
func (s *Service) announceOnline(ctx context.Context, ch *Channel, first bool) {
	peers, err := s.store.Peers(ctx, ch.userID)
	if err != nil {
		ch.logger.Warn("list peers", zap.Error(err))
		return
	}
	for _, p := range peers {
		if first {
			s.hub.SendToUser(p, wire.EventUserOnline, wire.UserOnline{UserID: ch.userID})
		}
		if s.hub.Online(p) {
			ch.emit(wire.EventUserOnline, wire.UserOnline{UserID: p})
		}
	}
}

func (s *Service) claims(ctx context.Context) (*auth.Claims, error) {
	c, ok := auth.ClaimsFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return c, nil
}

// CreateConversation returns the conversation between the caller and the
// requested participants, creating it on first use.
func (s *Service) CreateConversation(ctx context.Context, req *wire.CreateConversationRequest) (*wire.CreateConversationResponse, error) {
	c, err := s.claims(ctx)
	if err != nil {
		return nil, err
	}
	ids := append([]string{c.UserID}, req.ParticipantIDs...)
	conv, created, err := s.store.CreateConversation(ctx, ids)
	if err != nil {
		return nil, grpcError(err)
	}
	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.Strings("participants", conv.ParticipantIDs))
	}
	return &wire.CreateConversationResponse{Conversation: conv.Wire(), Created: created}, nil
}

// ListConversations lists the caller's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, req *wire.ListConversationsRequest) (*wire.ListConversationsResponse, error) {
	c, err := s.claims(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversations(ctx, c.UserID, req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &wire.ListConversationsResponse{Conversations: make([]wire.Conversation, 0, len(convs))}
	for _, conv := range convs {
		resp.Conversations = append(resp.Conversations, conv.Wire())
	}
	return resp, nil
}

// ListMessages pages backwards through a conversation the caller belongs to.
func (s *Service) ListMessages(ctx context.Context, req *wire.ListMessagesRequest) (*wire.ListMessagesResponse, error) {
	c, err := s.claims(ctx)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, status.Error(codes.InvalidArgument, "conversation id is required")
	}
	ok, err := s.store.IsParticipant(ctx, req.ConversationID, c.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	if !ok {
		return nil, status.Error(codes.PermissionDenied, "not a participant")
	}
	msgs, more, err := s.store.ListMessages(ctx, req.ConversationID, req.Cursor(), req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &wire.ListMessagesResponse{Messages: make([]wire.Message, 0, len(msgs)), HasMore: more}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, m.Wire())
	}
	return resp, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrNotParticipant), errors.Is(err, store.ErrNotSender):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, store.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
