package relay

import (
	"context"

	"github.com/matheus3301/yarning/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// verify extracts and validates the bearer token carried in metadata.
func verify(ctx context.Context, j *auth.JWTManager) (*auth.Claims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	headers := md.Get("authorization")
	if len(headers) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, err := auth.BearerToken(headers[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return claims, nil
}

// AuthUnaryInterceptor requires a valid bearer token on every unary call
// outside the allowed set.
func AuthUnaryInterceptor(j *auth.JWTManager, allowed map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if allowed[info.FullMethod] {
			return handler(ctx, req)
		}
		claims, err := verify(ctx, j)
		if err != nil {
			return nil, err
		}
		return handler(auth.WithClaims(ctx, claims), req)
	}
}

// AuthStreamInterceptor is the stream equivalent of AuthUnaryInterceptor.
// A rejected channel never reaches the relay.
func AuthStreamInterceptor(j *auth.JWTManager, allowed map[string]bool) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if allowed[info.FullMethod] {
			return handler(srv, ss)
		}
		claims, err := verify(ss.Context(), j)
		if err != nil {
			return err
		}
		return handler(srv, claimsStream{ServerStream: ss, ctx: auth.WithClaims(ss.Context(), claims)})
	}
}

// claimsStream overrides the stream context to carry verified claims.
type claimsStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s claimsStream) Context() context.Context { return s.ctx }
