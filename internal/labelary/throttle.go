package labelary

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	ThrottleFixed       = "fixed"
	ThrottleTokenBucket = "token_bucket"
)

// Throttle spaces out renderer calls on the client side.
type Throttle interface {
	Wait(ctx context.Context) error
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// NewThrottle builds the throttle named by kind for perSecond calls.
func NewThrottle(kind string, perSecond float64) (Throttle, error) { //nolint:ireturn
	switch kind {
	case "", ThrottleFixed:
		return NewFixedDelay(perSecond), nil
	case ThrottleTokenBucket:
		return NewTokenBucket(perSecond), nil
	default:
		return nil, fmt.Errorf("unknown throttle %q", kind)
	}
}

// FixedDelay waits 1/perSecond before every call, the first one included.
type FixedDelay struct {
	delay time.Duration
	sleep sleepFunc
}

func NewFixedDelay(perSecond float64) *FixedDelay {
	var delay time.Duration
	if perSecond > 0 {
		delay = time.Duration(float64(time.Second) / perSecond)
	}
	return &FixedDelay{delay: delay, sleep: sleepContext}
}

// Delay is the pause applied before each call.
func (f *FixedDelay) Delay() time.Duration { return f.delay }

func (f *FixedDelay) Wait(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	return f.sleep(ctx, f.delay)
}

// TokenBucket admits perSecond calls with a burst of one. Unlike FixedDelay
// the first call goes through immediately.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(perSecond float64) *TokenBucket {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, 1)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx) //nolint:wrapcheck
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
