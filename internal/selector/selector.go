// Package selector ranks tradable instruments for the daily entry cycle.
package selector

import (
	"context"
	"sort"
	"strings"
	"time"

	"volumebot/internal/domain"
	"volumebot/internal/ports"
	"volumebot/internal/quote"
)

// TickerSource provides the full 24h ticker snapshot, typically a Cache-backed
// wrapper over the exchange client.
type TickerSource interface {
	Tickers(ctx context.Context) (map[string]*domain.Ticker, error)
}

// Selector picks the top instruments by 24h quote-asset turnover.
type Selector struct {
	logger     ports.Logger
	source     TickerSource
	quoteAsset string
	maxSymbols int
}

// New creates a Selector restricted to pairs quoted in quoteAsset.
func New(logger ports.Logger, source TickerSource, quoteAsset string, maxSymbols int) *Selector {
	if maxSymbols <= 0 {
		maxSymbols = 10
	}
	return &Selector{
		logger:     logger,
		source:     source,
		quoteAsset: strings.ToUpper(quoteAsset),
		maxSymbols: maxSymbols,
	}
}

// TopByVolume returns up to maxSymbols quote-asset pairs ranked by descending
// 24h quote volume, ties broken by symbol ascending. A source failure returns
// an empty slice so the caller skips the cycle instead of trading on stale or
// missing data.
func (s *Selector) TopByVolume(ctx context.Context) []*domain.Ticker {
	tickers, err := s.source.Tickers(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Ticker snapshot unavailable, skipping selection", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	candidates := make([]*domain.Ticker, 0, len(tickers))
	for symbol, tk := range tickers {
		if !strings.HasSuffix(symbol, s.quoteAsset) || symbol == s.quoteAsset {
			continue
		}
		candidates = append(candidates, tk)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].QuoteVolume != candidates[j].QuoteVolume {
			return candidates[i].QuoteVolume > candidates[j].QuoteVolume
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	if len(candidates) > s.maxSymbols {
		candidates = candidates[:s.maxSymbols]
	}
	return candidates
}

// CachedTickers adapts the quote cache + exchange client into a TickerSource.
type CachedTickers struct {
	Cache    *quote.Cache
	Exchange ports.ExchangeClient
	TTL      time.Duration
}

func (c *CachedTickers) Tickers(ctx context.Context) (map[string]*domain.Ticker, error) {
	v, err := c.Cache.Get(ctx, quote.KeyTickers, c.TTL, func(ctx context.Context) (interface{}, error) {
		return c.Exchange.FetchTickers(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*domain.Ticker), nil
}
