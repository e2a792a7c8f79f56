package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket in front of a metered remote API.
// Tokens refill continuously at perMinute/60 per second up to burst.
type RateLimiter struct {
	mu     sync.Mutex
	burst  float64
	avail  float64
	refill float64 // per second
	last   time.Time
	now    func() time.Time
}

func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	rl := &RateLimiter{
		burst:  float64(burst),
		avail:  float64(burst),
		refill: perMinute / 60,
		now:    time.Now,
	}
	rl.last = rl.now()
	return rl
}

// reserve takes a token if one is available, otherwise reports how long
// until the next one is.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	t := rl.now()
	rl.avail = min(rl.burst, rl.avail+t.Sub(rl.last).Seconds()*rl.refill)
	rl.last = t
	if rl.avail >= 1 {
		rl.avail--
		return 0
	}
	return time.Duration((1 - rl.avail) / rl.refill * float64(time.Second))
}

// Wait blocks until a token is taken or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := rl.reserve()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
