// Package retry re-invokes operations that fail with a transient error.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/txbot/internal/txerr"
)

const (
	// DefaultMaxAttempts is the total number of invocations, including the first.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the fixed pause between attempts.
	DefaultBackoff = 200 * time.Millisecond
)

// Recorder receives one call per retried attempt.
type Recorder interface {
	RecordRetry(operation string)
}

// Config configures an Executor.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	// Classify defaults to txerr.Classify.
	Classify func(error) txerr.Kind
	Recorder Recorder
	Logger   *slog.Logger
}

// Executor runs operations with bounded, sequential attempts.
type Executor struct {
	maxAttempts int
	backoff     time.Duration
	classify    func(error) txerr.Kind
	recorder    Recorder
	logger      *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Classify == nil {
		cfg.Classify = txerr.Classify
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		classify:    cfg.Classify,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
	}
}

// MaxAttempts returns the configured attempt bound.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Do invokes op until it succeeds, fails with a non-transient error, or
// MaxAttempts invocations have been made. The last error is returned unchanged.
// A nil Executor runs op exactly once.
func Do[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	if e == nil {
		return op(ctx)
	}

	var (
		val T
		err error
	)
	for attempt := 1; ; attempt++ {
		val, err = op(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= e.maxAttempts || ctx.Err() != nil || e.classify(err) != txerr.Transient {
			return val, err
		}

		e.logger.Debug("transient failure, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", e.maxAttempts),
			slog.String("error", err.Error()),
		)
		if e.recorder != nil {
			e.recorder.RecordRetry(name)
		}

		if e.backoff > 0 {
			timer := time.NewTimer(e.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return val, err
			case <-timer.C:
			}
		}
	}
}
