package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumebot/internal/ports"
)

// --- Mocks ---

type mockLogger struct {
	warns  int
	errors int
}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.warns++
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.errors++
}

type mockSink struct {
	messages   []string
	severities []string
}

func (s *mockSink) RecordError(ctx context.Context, message string, severity string) error {
	s.messages = append(s.messages, message)
	s.severities = append(s.severities, severity)
	return nil
}

type mockNotifier struct {
	messages []string
	levels   []ports.NotifyLevel
}

func (n *mockNotifier) Notify(ctx context.Context, message string, level ports.NotifyLevel) {
	n.messages = append(n.messages, message)
	n.levels = append(n.levels, level)
}

func newTestRetrier(maxAttempts int) (*Retrier, *mockLogger, *[]time.Duration) {
	logger := &mockLogger{}
	r := New(Config{
		Logger:      logger,
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
	})
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, logger, &slept
}

// --- Tests ---

func TestDo_SucceedsAfterFailures(t *testing.T) {
	r, logger, slept := newTestRetrier(5)
	r.jitter = func() float64 { return 0 }

	calls := 0
	err := r.Do(context.Background(), "fetch tickers", func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, logger.warns, "each failed attempt should be logged")
	assert.Equal(t, 0, logger.errors)
	// Waits after failures of attempts 0 and 1: 1s, 2s (jitter zeroed).
	require.Len(t, *slept, 2)
	assert.Equal(t, time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	r, logger, _ := newTestRetrier(3)
	sink := &mockSink{}
	notifier := &mockNotifier{}
	r.sink = sink
	r.notifier = notifier

	calls := 0
	err := r.Do(context.Background(), "place order", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d boom", calls)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrOperationFailed))
	assert.Contains(t, err.Error(), "place order")
	assert.Contains(t, err.Error(), "attempt 3 boom")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, logger.warns)
	assert.Equal(t, 1, logger.errors)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, "error", sink.severities[0])
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, ports.NotifyError, notifier.levels[0])
}

func TestDo_BackoffWithinJitterBounds(t *testing.T) {
	r, _, slept := newTestRetrier(4)

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		return errors.New("always fails")
	})
	require.Error(t, err)

	// Waits after failures of attempts 0, 1, 2: base 1s, 2s, 4s plus
	// jitter in [0, 0.5s).
	require.Len(t, *slept, 3)
	for k, d := range *slept {
		lo := time.Second << uint(k)
		hi := lo + 500*time.Millisecond
		assert.GreaterOrEqual(t, d, lo, "wait %d below base", k)
		assert.Less(t, d, hi, "wait %d above jitter cap", k)
	}
}

func TestDo_ContextCanceledAborts(t *testing.T) {
	r, logger, _ := newTestRetrier(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
	assert.False(t, errors.Is(err, ports.ErrOperationFailed))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, logger.errors)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	r, _, _ := newTestRetrier(5)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
	assert.Equal(t, 1, calls)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	r, _, _ := newTestRetrier(3)

	calls := 0
	got, err := DoValue(r, context.Background(), "fetch balance", func(ctx context.Context) (float64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("timeout")
		}
		return 1234.5, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1234.5, got)
}

func TestDoValue_ZeroOnFailure(t *testing.T) {
	r, _, _ := newTestRetrier(2)

	got, err := DoValue(r, context.Background(), "fetch price", func(ctx context.Context) (float64, error) {
		return 99.0, errors.New("boom")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrOperationFailed))
	assert.Zero(t, got)
}

func TestNew_ClampsConfig(t *testing.T) {
	r := New(Config{Logger: &mockLogger{}})
	assert.Equal(t, 1, r.maxAttempts)
	assert.Equal(t, time.Second, r.baseDelay)
}
