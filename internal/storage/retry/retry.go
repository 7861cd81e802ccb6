// Package retry wraps storage operations with a bounded retry for transient
// SQLite lock contention. SQLite rejects concurrent writers with a "database
// is locked" error that resolves by itself once the competing transaction
// finishes, so mutating operations retry with exponential backoff and jitter
// before giving up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stplan/sheetsweep/internal/log"
)

// ErrLockExhausted is returned when an operation kept hitting transient lock
// errors for every allowed attempt. It is distinguishable from ordinary
// storage failures so callers can decide to surface it differently.
var ErrLockExhausted = errors.New("database lock retries exhausted")

// Config tunes the lock retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      log.Logger
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
}

// IsLocked reports whether the error is a transient SQLite lock error.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// OnLocked runs op, retrying transient lock errors with exponential backoff
// and jitter up to the configured attempt budget. Non-lock errors are returned
// immediately. When every attempt hit a lock error the returned error wraps
// ErrLockExhausted together with the last underlying error.
func OnLocked[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	cfg.defaults()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.BaseDelay
	policy.MaxInterval = cfg.MaxDelay

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !IsLocked(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		cfg.Logger.Warningf("Database locked on attempt %d, retrying in %s", attempt, wait)
	}

	v, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil && IsLocked(err) {
		return v, fmt.Errorf("%w: %w", ErrLockExhausted, err)
	}

	return v, err
}

// Do is a convenience wrapper for operations without a result value.
func Do(ctx context.Context, cfg Config, op func() error) error {
	_, err := OnLocked(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
