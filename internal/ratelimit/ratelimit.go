package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is shared by every component that talks to a scraped site.
type Limiter interface {
	Wait(ctx context.Context) error
}

// JitterLimiter is a token bucket with an extra random pause after each
// token so request spacing is not perfectly regular.
type JitterLimiter struct {
	bucket    *rate.Limiter
	maxJitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// New allows perSecond requests per second with the given burst. A
// non-positive perSecond disables the bucket.
func New(perSecond float64, burst int, maxJitter time.Duration) *JitterLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &JitterLimiter{
		bucket:    rate.NewLimiter(limit, burst),
		maxJitter: maxJitter,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *JitterLimiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	jitter := l.jitter()
	if jitter <= 0 {
		return nil
	}

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *JitterLimiter) jitter() time.Duration {
	if l.maxJitter <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.rnd.Int63n(int64(l.maxJitter)))
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
