package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/matheus3301/yarning/internal/auth"
	"github.com/matheus3301/yarning/internal/config"
	"github.com/matheus3301/yarning/internal/ratelimit"
	"github.com/matheus3301/yarning/internal/relay"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// unaryLimited are the calls subject to the per-user unary budget.
var unaryLimited = map[string]bool{
	wire.MethodCreateConversation: true,
	wire.MethodListConversations:  true,
	wire.MethodListMessages:       true,
}

// public skips authentication; the health service is called anonymously.
var public = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Server manages the gRPC server lifecycle of the relay.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// Listen opens addr, an absolute Unix socket path or a TCP host:port.
// A stale socket file is replaced and the new one is owner-only.
func Listen(addr string) (net.Listener, string, error) {
	path, isUnix := strings.CutPrefix(addr, "unix://")
	if !isUnix && strings.HasPrefix(addr, "/") {
		path, isUnix = addr, true
	}
	if !isUnix {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("listen tcp: %w", err)
		}
		return lis, "", nil
	}

	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, "", fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = lis.Close()
		return nil, "", fmt.Errorf("chmod socket: %w", err)
	}
	return lis, path, nil
}

// NewServer creates the relay's gRPC server with authentication and rate
// limiting in front of every relay call.
func NewServer(cfg config.Relay, logger *zap.Logger, svc *relay.Service, j *auth.JWTManager, limits Limiters) (*Server, error) {
	listener, socketPath, err := Listen(cfg.Listen)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			relay.AuthUnaryInterceptor(j, public),
			ratelimit.UnaryInterceptor(limits.Unary, unaryLimited),
		),
		grpc.ChainStreamInterceptor(relay.AuthStreamInterceptor(j, public)),
	)
	wire.RegisterRelayServer(srv, svc)

	hs := health.NewServer()
	hs.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.socketPath != "" {
		return s.socketPath
	}
	return s.listener.Addr().String()
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("addr", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks the relay as not serving, drains open calls and removes the
// socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Channels are long-lived; cut them off when the stop deadline hits.
		s.grpcServer.Stop()
		<-done
	}
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
}
