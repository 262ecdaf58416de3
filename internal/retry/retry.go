// Package retry re-runs a generation attempt after rate-limit responses,
// publishing a per-second countdown while it waits.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tweetbot/internal/proxy"
)

const (
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts = 3
	// DefaultDelay applies when a rate-limit error carries no delay.
	DefaultDelay = proxy.DefaultRetryAfter
)

// ErrCanceled is returned by Run after Cancel.
var ErrCanceled = errors.New("retry canceled")

// Clock abstracts timers so tests can drive the countdown.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Wait is published once per second while a re-attempt is pending.
type Wait struct {
	// Attempt is the 1-based number of the attempt being waited for.
	Attempt int `json:"attempt"`
	// Remaining whole seconds until it runs.
	Remaining int `json:"remaining"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithCountdown registers the countdown observer.
func WithCountdown(fn func(Wait)) Option {
	return func(c *Controller) { c.onWait = fn }
}

// WithMaxAttempts overrides MaxAttempts. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller wraps one generation. It is not reusable after Cancel.
type Controller struct {
	maxAttempts int
	clock       Clock
	onWait      func(Wait)
	logger      *slog.Logger

	cancelOnce sync.Once
	done       chan struct{}
}

// New creates a Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		maxAttempts: MaxAttempts,
		clock:       realClock{},
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run calls attempt until it succeeds, fails with anything other than a rate
// limit, or the attempt cap is reached. The last error is returned unchanged.
func (c *Controller) Run(ctx context.Context, attempt func(ctx context.Context) error) error {
	for n := 1; ; n++ {
		if c.canceled() {
			return ErrCanceled
		}
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		rl, ok := proxy.AsRateLimit(err)
		if !ok || n >= c.maxAttempts {
			return err
		}

		delay := rl.RetryAfter
		if delay <= 0 {
			delay = DefaultDelay
		}
		c.logger.Info("rate limited, scheduling retry", "attempt", n+1, "delay", delay)
		if err := c.wait(ctx, n+1, delay); err != nil {
			return err
		}
	}
}

// Cancel stops a pending wait. No further attempt or countdown tick fires.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() { close(c.done) })
}

func (c *Controller) canceled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait sleeps for delay in steps of at most one second. A fractional second
// is consumed first so every later tick lands on a whole second.
func (c *Controller) wait(ctx context.Context, next int, delay time.Duration) error {
	left := delay
	for left > 0 {
		secs := int((left + time.Second - 1) / time.Second)
		if c.canceled() {
			return ErrCanceled
		}
		if c.onWait != nil {
			c.onWait(Wait{Attempt: next, Remaining: secs})
		}

		step := left - time.Duration(secs-1)*time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrCanceled
		case <-c.clock.After(step):
		}
		left -= step
	}
	if c.canceled() {
		return ErrCanceled
	}
	return nil
}
