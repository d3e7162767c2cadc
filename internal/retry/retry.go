// Package retry is the single chokepoint for all remote calls: a bounded
// exponential backoff with jitter, uniform across the bot.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"volumebot/internal/ports"
)

// ErrorSink durably records terminal failures. ports.PositionStore satisfies it.
type ErrorSink interface {
	RecordError(ctx context.Context, message string, severity string) error
}

// Config holds the retry policy parameters.
type Config struct {
	Logger      ports.Logger
	MaxAttempts int           // Total attempts per operation (>=1)
	BaseDelay   time.Duration // Backoff base unit (e.g., 1s)
	CallTimeout time.Duration // Per-attempt timeout; 0 disables it
	Sink        ErrorSink     // Optional durable record of terminal failures
	Notifier    ports.Notifier
}

// Retrier executes fallible remote operations with bounded exponential
// backoff plus jitter. The wait after failed attempt k (0-indexed) is
// BaseDelay*2^k plus a uniform jitter in [0, 0.5) base units.
type Retrier struct {
	logger      ports.Logger
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	sink        ErrorSink
	notifier    ports.Notifier

	// Injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a Retrier. Out-of-range parameters are clamped to sane values.
func New(cfg Config) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Retrier{
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		callTimeout: cfg.CallTimeout,
		sink:        cfg.Sink,
		notifier:    cfg.Notifier,
		sleep:       sleepCtx,
		jitter:      rand.Float64,
	}
}

// Do runs op until it succeeds or the attempt budget is exhausted.
// Every failure is logged; the terminal failure wraps ports.ErrOperationFailed
// around the last error, is recorded durably and fanned out to the notifier
// when one is configured. Context cancellation aborts immediately.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w: %w", name, ports.ErrContextCanceled, err)
		}

		lastErr = r.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}
		r.logger.Warn(ctx, "Remote operation failed", map[string]interface{}{
			"operation": name,
			"attempt":   attempt + 1,
			"max":       r.maxAttempts,
			"error":     lastErr.Error(),
		})

		if attempt == r.maxAttempts-1 {
			break
		}
		delay := r.backoff(attempt)
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s aborted during backoff: %w: %w", name, ports.ErrContextCanceled, err)
		}
	}

	terminal := fmt.Errorf("%s: %w after %d attempts: %w", name, ports.ErrOperationFailed, r.maxAttempts, lastErr)
	r.logger.Error(ctx, terminal, "Remote operation exhausted retries", map[string]interface{}{"operation": name})
	if r.sink != nil {
		if err := r.sink.RecordError(ctx, terminal.Error(), "error"); err != nil {
			r.logger.Warn(ctx, "Failed to record terminal failure", map[string]interface{}{"error": err.Error()})
		}
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, fmt.Sprintf("⚠️ %s failed after %d attempts: %v", name, r.maxAttempts, lastErr), ports.NotifyError)
	}
	return terminal
}

// DoValue is the value-returning variant of Retrier.Do.
func DoValue[T any](r *Retrier, ctx context.Context, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (r *Retrier) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.callTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return op(attemptCtx)
}

// backoff computes the wait after failed attempt k (0-indexed):
// baseDelay*2^k plus uniform jitter in [0, 0.5) base units.
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := r.baseDelay << uint(attempt)
	jitter := time.Duration(r.jitter() * 0.5 * float64(r.baseDelay))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
