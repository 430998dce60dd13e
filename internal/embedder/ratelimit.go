package embedder

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the minimum spacing between outbound embedding calls
const DefaultMinInterval = 100 * time.Millisecond

// RateLimiter enforces a minimum interval between calls. Each provider
// instance owns its own limiter; limiters are never shared.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewRateLimiter creates a limiter allowing one call per interval.
// A non-positive interval disables limiting.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until the next call is allowed or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Interval returns the configured spacing; zero means unlimited
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// Limited decorates an Embedder so every call first waits on its limiter
type Limited struct {
	Embedder
	limiter *RateLimiter
}

// NewLimited wraps e with a fresh limiter using interval
func NewLimited(e Embedder, interval time.Duration) *Limited {
	return &Limited{Embedder: e, limiter: NewRateLimiter(interval)}
}

func (l *Limited) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Embedder.GenerateEmbedding(ctx, req)
}

func (l *Limited) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Embedder.GenerateBatch(ctx, req)
}

// Unwrap returns the decorated embedder
func (l *Limited) Unwrap() Embedder {
	return l.Embedder
}
