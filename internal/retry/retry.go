// Package retry re-runs transient mailbox and notifier calls with
// exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// Retryable decides whether an error is worth another attempt.
	// Nil retries everything.
	Retryable func(error) bool
	Logger    *zap.Logger
}

func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{
		Attempts:  4,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Factor:    2,
		Jitter:    0.1,
		Logger:    logger,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// Do calls op until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	p = p.normalized()
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = op(ctx); err == nil {
			if attempt > 1 {
				p.Logger.Info("call succeeded after retry", zap.String("op", name), zap.Int("attempt", attempt))
			}
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		wait := spread(delay, p.Jitter)
		p.Logger.Warn("call failed, retrying",
			zap.String("op", name),
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.Attempts),
			zap.Duration("delay", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*p.Factor), p.MaxDelay)
	}
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func spread(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac * float64(d)
	return d + time.Duration(delta)
}
