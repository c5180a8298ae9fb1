// Package transport connects the client manager to the relay over gRPC.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matheus3301/yarning/internal/client"
	"github.com/matheus3301/yarning/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Conn is a connection to one relay. It implements client.Transport and
// client.History.
type Conn struct {
	conn  *grpc.ClientConn
	relay *wire.RelayClient
	token client.TokenSource
}

// Dial creates a client for the relay at target, either host:port or an
// absolute unix socket path. Unary calls authenticate with token.
func Dial(target string, token client.TokenSource, opts ...grpc.DialOption) (*Conn, error) {
	if strings.HasPrefix(target, "/") {
		target = "unix://" + target
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Conn{conn: conn, relay: wire.NewRelayClient(conn), token: token}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Open starts a Connect stream carrying token as a bearer credential.
func (c *Conn) Open(ctx context.Context, token string) (client.Stream, error) {
	ctx, cancel := context.WithCancel(withBearer(ctx, token))
	cs, err := c.relay.Connect(ctx)
	if err != nil {
		cancel()
		return nil, mapErr(err)
	}
	return &channel{cs: cs, cancel: cancel}, nil
}

// ListMessages implements client.History.
func (c *Conn) ListMessages(ctx context.Context, req *wire.ListMessagesRequest) (*wire.ListMessagesResponse, error) {
	ctx, err := c.authorize(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.relay.ListMessages(ctx, req)
	return resp, mapErr(err)
}

// CreateConversation finds or creates the conversation between the caller
// and participantIDs.
func (c *Conn) CreateConversation(ctx context.Context, participantIDs []string) (*wire.CreateConversationResponse, error) {
	ctx, err := c.authorize(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.relay.CreateConversation(ctx, &wire.CreateConversationRequest{ParticipantIDs: participantIDs})
	return resp, mapErr(err)
}

// ListConversations returns the caller's conversations, most recent first.
func (c *Conn) ListConversations(ctx context.Context, limit int) ([]wire.Conversation, error) {
	ctx, err := c.authorize(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.relay.ListConversations(ctx, &wire.ListConversationsRequest{Limit: limit})
	if err != nil {
		return nil, mapErr(err)
	}
	return resp.Conversations, nil
}

func (c *Conn) authorize(ctx context.Context) (context.Context, error) {
	if c.token == nil {
		return nil, client.ErrNoCredential
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrNoCredential, err)
	}
	if token == "" {
		return nil, client.ErrNoCredential
	}
	return withBearer(ctx, token), nil
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// mapErr surfaces credential rejections as client.ErrUnauthenticated.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Unauthenticated {
		return fmt.Errorf("%w: %s", client.ErrUnauthenticated, status.Convert(err).Message())
	}
	return err
}

type channel struct {
	cs     wire.RelayConnectClient
	cancel context.CancelFunc
}

func (s *channel) Send(env *wire.Envelope) error {
	return mapErr(s.cs.Send(env))
}

func (s *channel) Recv() (*wire.Envelope, error) {
	env, err := s.cs.Recv()
	if errors.Is(err, io.EOF) {
		return nil, err
	}
	return env, mapErr(err)
}

func (s *channel) Close() error {
	err := s.cs.CloseSend()
	s.cancel()
	return err
}
