// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/yarning/internal/auth"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// idleAfter is how long an unused bucket is kept.
const idleAfter = 10 * time.Minute

// Store maintains per-key limiters and periodically forgets idle ones.
type Store struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	entries  map[string]*entry
	stopCh   chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a store allowing perMinute events per key with the given
// burst. perMinute <= 0 defaults to 60, burst <= 0 to 1.
func New(perMinute, burst int, cleanupInterval time.Duration) *Store {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &Store{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.forgetIdle(now.Add(-idleAfter))
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) forgetIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.entries[key] = &entry{limiter: l, lastSeen: time.Now()}
	return l
}

// Allow reports whether one more event for key is permitted now.
func (s *Store) Allow(key string) bool {
	return s.limiter(key).Allow()
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// UnaryInterceptor limits the given methods per authenticated user, falling
// back to the peer address for unauthenticated calls. It must run after the
// auth interceptor.
func UnaryInterceptor(s *Store, methods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !methods[info.FullMethod] {
			return handler(ctx, req)
		}
		if !s.Allow(keyFor(ctx)) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func keyFor(ctx context.Context) string {
	if c, ok := auth.ClaimsFrom(ctx); ok {
		return "user:" + c.UserID
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "peer:" + p.Addr.String()
	}
	return "unknown"
}
