package ports

import (
	"context"
	"time"

	"volumebot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID     int64     // Exchange's order ID
	Symbol      string    // Symbol for the order
	Side        string    // Order side (BUY, SELL)
	Price       float64   // Average filled price (0 if not reported)
	Quantity    float64   // Base-asset quantity filled
	QuoteAmount float64   // Quote-asset amount spent/received
	Status      string    // Order status (e.g., NEW, FILLED)
	Timestamp   time.Time // Time the order response was generated
}

// ExchangeClient defines the interface for interacting with a cryptocurrency
// exchange. All implementations are invoked through the retry wrapper by the
// callers; the client itself performs single attempts.
type ExchangeClient interface {
	// FetchTickers retrieves 24h statistics for every traded symbol.
	FetchTickers(ctx context.Context) (map[string]*domain.Ticker, error)

	// FetchTicker retrieves 24h statistics for a single symbol.
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)

	// FetchBalance retrieves the free balance per asset.
	FetchBalance(ctx context.Context) (map[string]float64, error)

	// PlaceMarketBuy places a market buy spending the given quote-asset amount.
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResponse, error)

	// PlaceMarketSell places a market sell of the given base-asset quantity.
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*OrderResponse, error)

	// GetKlines retrieves historical klines/candlestick data for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// StreamMiniTickers starts a websocket stream of per-symbol last prices.
	// The handler receives every price update; errHandler receives stream errors.
	// Returns channels to observe/stop the stream or an error if the first
	// connection attempt fails.
	StreamMiniTickers(ctx context.Context, handler func(symbol string, price float64), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
