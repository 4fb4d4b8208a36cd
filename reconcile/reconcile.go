// Package reconcile waits for a lagging private balance to catch up with a
// required amount.
package reconcile

import (
	"context"
	"log/slog"
	"math/big"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 1500 * time.Millisecond
)

// FetchFunc reads the balance. force asks the source to bypass its cache.
type FetchFunc func(ctx context.Context, force bool) (*big.Int, error)

// Result is the outcome of Wait.
type Result struct {
	// Balance is the last successfully read value, or zero when no read
	// succeeded.
	Balance  *big.Int
	Attempts int
	// Observed reports that at least one fetch succeeded.
	Observed bool
	// Satisfied reports Balance >= required.
	Satisfied bool
	// Err is the last fetch error, if the final attempt failed.
	Err error
}

type options struct {
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	log      *slog.Logger
}

// Option configures Wait.
type Option func(*options)

// WithAttempts sets the total number of fetches, the first one included.
func WithAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithDelay sets the pause between fetches.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithSleep replaces the context-aware sleep. Tests use it to avoid real
// delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithLogger sets the logger for per-attempt debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Wait fetches once without forcing a refresh and returns at once if the
// balance already covers required. Otherwise it retries with forced
// refreshes until the balance is enough or the attempt budget is spent. It
// never fails on exhaustion: the caller inspects Satisfied. Only context
// cancellation is returned as an error.
func Wait(ctx context.Context, fetch FetchFunc, required *big.Int, opts ...Option) (Result, error) {
	o := options{
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		sleep:    sleepCtx,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var res Result
	for attempt := 1; attempt <= o.attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return res, err
			}
		}

		bal, err := fetch(ctx, attempt > 1)
		res.Attempts = attempt
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Err = err
			o.log.DebugContext(ctx, "reconcile.fetch_failed", slog.Int("attempt", attempt), slog.String("err", err.Error()))
			continue
		}
		res.Balance, res.Err, res.Observed = bal, nil, true
		res.Satisfied = bal.Cmp(required) >= 0

		o.log.DebugContext(ctx, "reconcile.attempt",
			slog.Int("attempt", attempt),
			slog.String("balance", bal.String()),
			slog.String("required", required.String()),
			slog.Bool("satisfied", res.Satisfied),
		)
		if res.Satisfied {
			return res, nil
		}
	}
	if res.Balance == nil {
		res.Balance = new(big.Int)
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
