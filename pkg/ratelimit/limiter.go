// Package ratelimit provides the single-slot gate that spaces out every model
// call made by the process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Limiter enforces a minimum interval between the starts of successive
// Acquire calls. One Limiter is shared by every stage and every pipeline in
// the process.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
	clock    Clock
	logger   hclog.Logger
	observe  func(wait time.Duration)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used to report waits.
func WithLogger(logger hclog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithWaitObserver registers a callback that receives the time each
// successful Acquire spent waiting (zero when it did not wait).
func WithWaitObserver(fn func(wait time.Duration)) Option {
	return func(l *Limiter) {
		l.observe = fn
	}
}

// New creates a limiter with the given cooldown.
func New(cooldown time.Duration, opts ...Option) (*Limiter, error) {
	if cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive, got %s", cooldown)
	}
	l := &Limiter{
		cooldown: cooldown,
		clock:    SystemClock(),
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Cooldown returns the configured interval.
func (l *Limiter) Cooldown() time.Duration {
	return l.cooldown
}

// Acquire blocks until the cooldown has elapsed since the previous Acquire
// that proceeded, then records the current time as the new reference point.
// The check, the wait and the update happen under one lock, so concurrent
// callers are serialized. If ctx is done while waiting, Acquire returns
// ctx.Err() and leaves the reference point untouched.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var wait time.Duration
	if !l.last.IsZero() {
		elapsed := l.clock.Now().Sub(l.last)
		if elapsed < l.cooldown {
			wait = l.cooldown - elapsed
			l.logger.Debug("rate limiter active", "wait", wait)
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	l.last = l.clock.Now()
	if l.observe != nil {
		l.observe(wait)
	}
	return nil
}
