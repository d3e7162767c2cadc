// Package app wires the trading engine together: the daily entry cycle, the
// adaptive position monitor and the schedule that drives them.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"volumebot/config"
	"volumebot/internal/ports"
	"volumebot/internal/quote"
	"volumebot/internal/retry"
	"volumebot/internal/selector"
)

// Service orchestrates the bot: it owns the schedule, the quote cache and the
// monitor timer, and coordinates the exchange, store and notifier ports.
type Service struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	store    ports.PositionStore
	notifier ports.Notifier
	retrier  *retry.Retrier
	cache    *quote.Cache
	selector *selector.Selector

	rng *rand.Rand
	now func() time.Time

	// Entry cycle guard: at most one cycle runs at a time.
	entryMu sync.Mutex

	// Monitor state: a single timer, cancelled and replaced on every reschedule.
	monitorMu       sync.Mutex
	monitorTimer    *time.Timer
	monitorCtx      context.Context
	lastSnapshotDay string
}

// NewService creates the application service and its internal plumbing.
func NewService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	store ports.PositionStore,
	notifier ports.Notifier,
) (*Service, error) {
	if cfg == nil || logger == nil || exchange == nil || store == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}

	// Config values corrected to safe defaults at load are surfaced here,
	// once, where a logger exists.
	for _, w := range cfg.Warnings {
		logger.Warn(context.Background(), "Configuration corrected", map[string]interface{}{"warning": w})
	}

	retrier := retry.New(retry.Config{
		Logger:      logger,
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.RequestTimeout,
		Sink:        store,
		Notifier:    notifier,
	})
	cache := quote.New(logger, retrier, cfg.StreamFreshness)
	sel := selector.New(logger, &selector.CachedTickers{
		Cache:    cache,
		Exchange: exchange,
		TTL:      cfg.CacheTTL,
	}, cfg.QuoteAsset, cfg.MaxSymbols)

	return &Service{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		store:    store,
		notifier: notifier,
		retrier:  retrier,
		cache:    cache,
		selector: sel,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}, nil
}

// Start runs the bot until the context is cancelled or a shutdown signal
// arrives. It blocks.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting volume bot", map[string]interface{}{
		"dryRun":     s.cfg.DryRun,
		"quoteAsset": s.cfg.QuoteAsset,
		"maxSymbols": s.cfg.MaxSymbols,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// Initial connectivity check. Fatal: a bot that cannot reach the exchange
	// at boot is misconfigured.
	if err := s.retrier.Do(ctx, "initial ping", s.exchange.Ping); err != nil {
		return fmt.Errorf("exchange unreachable at startup: %w", err)
	}
	s.logger.Info(ctx, "Exchange connectivity verified")

	// Live price stream feeding the cache's low-latency lane.
	var streamStop chan struct{}
	if s.cfg.StreamEnabled {
		_, stopCh, err := s.exchange.StreamMiniTickers(ctx, s.cache.SetStreamPrice, func(err error) {
			s.logger.Warn(ctx, "Price stream error", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			// The stream is an optimization; polling still works without it.
			s.logger.Warn(ctx, "Price stream unavailable, falling back to polling", map[string]interface{}{"error": err.Error()})
		} else {
			streamStop = stopCh
		}
	}

	// Cron drives the fixed-time jobs; the monitor runs on its own timer chain.
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("1 0 * * *", func() { s.RunEntryCycle(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule entry job: %w", err)
	}
	healthSpec := fmt.Sprintf("@every %s", s.cfg.HealthCheckInterval)
	if _, err := c.AddFunc(healthSpec, func() { s.healthCheck(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}
	c.Start()
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{
		"entrySchedule": "00:01 UTC daily",
		"healthCheck":   s.cfg.HealthCheckInterval.String(),
	})

	s.StartMonitor(ctx)

	<-ctx.Done()
	s.logger.Info(context.Background(), "Shutting down")

	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.StopMonitor()
	if streamStop != nil {
		close(streamStop)
	}
	s.logger.Info(context.Background(), "Shutdown complete")
	return nil
}

// healthCheck pings the exchange; repeated failures surface through the
// retrier's error sink and notifier.
func (s *Service) healthCheck(ctx context.Context) {
	if err := s.retrier.Do(ctx, "health check ping", s.exchange.Ping); err != nil {
		s.logger.Error(ctx, err, "Health check failed")
		return
	}
	s.logger.Debug(ctx, "Health check passed")
}

// freeBalance returns the free quote-asset balance to size entries from.
// Dry-run mode trades a simulated balance so the full lifecycle is exercised.
func (s *Service) freeBalance(ctx context.Context) (float64, error) {
	if s.cfg.DryRun {
		return s.cfg.DryRunBalance, nil
	}
	v, err := s.cache.Get(ctx, quote.BalanceKey(s.cfg.QuoteAsset), s.cfg.CacheTTL, func(ctx context.Context) (interface{}, error) {
		balances, err := s.exchange.FetchBalance(ctx)
		if err != nil {
			return nil, err
		}
		return balances[s.cfg.QuoteAsset], nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// currentPrice resolves the freshest known price for a symbol, preferring the
// stream lane and falling back to a polled ticker.
func (s *Service) currentPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := s.cache.Price(ctx, symbol, s.cfg.PriceTTL, func(ctx context.Context) (float64, error) {
		tk, err := s.exchange.FetchTicker(ctx, symbol)
		if err != nil {
			return 0, err
		}
		return tk.LastPrice, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ports.ErrPriceUnavailable, symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s: non-positive price %f", ports.ErrPriceUnavailable, symbol, price)
	}
	return price, nil
}

// retryValue routes a value-returning exchange call through the service retrier.
func retryValue[T any](s *Service, ctx context.Context, name string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(s.retrier, ctx, name, op)
}
