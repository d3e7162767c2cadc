package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"volumebot/internal/domain"
	"volumebot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.ExchangeClient interface for Binance spot
// using the go-binance library.
type Client struct {
	spotClient           *binance.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Stream reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max stream reconnect attempts before giving up
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		spotClient:           client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -1013: // Filter failure (lot size, min notional, ...)
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected (includes insufficient balance on spot)
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -3041: // Balance is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// FetchTickers retrieves 24h statistics for every traded symbol.
func (c *Client) FetchTickers(ctx context.Context) (map[string]*domain.Ticker, error) {
	op := "FetchTickers"
	stats, err := c.spotClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	tickers := make(map[string]*domain.Ticker, len(stats))
	for _, st := range stats {
		tk, err := translateTicker(st)
		if err != nil {
			// One malformed entry should not discard the whole snapshot.
			c.logger.Warn(ctx, op+": skipping malformed ticker", map[string]interface{}{"symbol": st.Symbol, "error": err.Error()})
			continue
		}
		tickers[tk.Symbol] = tk
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(tickers)})
	return tickers, nil
}

// FetchTicker retrieves 24h statistics for a single symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	op := "FetchTicker"
	stats, err := c.spotClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return nil, c.handleError(ctx, err, op)
	}

	tk, err := translateTicker(stats[0])
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return tk, nil
}

// FetchBalance retrieves the free balance per asset.
func (c *Client) FetchBalance(ctx context.Context) (map[string]float64, error) {
	op := "FetchBalance"
	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	balances := make(map[string]float64, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse free balance '%s' for asset %s: %w", bal.Free, bal.Asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		if free > 0 {
			balances[bal.Asset] = free
		}
	}
	return balances, nil
}

// PlaceMarketBuy places a market buy spending the given quote-asset amount.
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketBuy"
	order, err := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(strconv.FormatFloat(quoteAmount, 'f', 2, 64)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quoteAmount": quoteAmount, "orderID": resp.OrderID,
		"quantity": resp.Quantity, "avgPrice": resp.Price,
	})
	return resp, nil
}

// PlaceMarketSell places a market sell of the given base-asset quantity.
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketSell"
	order, err := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', 8, 64)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.Price,
	})
	return resp, nil
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	const maxLimit = 1000
	from := start

	for {
		klines, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	return allKlines, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.spotClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// StreamMiniTickers starts the all-market mini-ticker WebSocket stream and
// keeps it alive with a reconnection loop.
func (c *Client) StreamMiniTickers(ctx context.Context, handler func(symbol string, price float64), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamMiniTickers"
	wsCtx, cancelWs := context.WithCancel(ctx)

	// Wrapper for the domain handler to perform translation
	binanceHandler := func(events binance.WsAllMiniMarketsStatEvent) {
		for _, ev := range events {
			price, perr := strconv.ParseFloat(ev.LastPrice, 64)
			if perr != nil {
				c.logger.Debug(wsCtx, op+": skipping unparsable stream price", map[string]interface{}{"symbol": ev.Symbol, "lastPrice": ev.LastPrice})
				continue
			}
			handler(ev.Symbol, price)
		}
	}

	// Wrapper for the error handler to perform translation and logging
	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		errHandler(translatedErr)
	}

	// Reconnection loop
	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.")
				return
			default:
				c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"attempt": attempt + 1})
				innerDoneCh, innerStopCh, connectErr := binance.WsAllMiniMarketsStatServe(binanceHandler, binanceErrHandler)

				if connectErr != nil {
					c.handleError(wsCtx, connectErr, op+" connection attempt")
					attempt++
					if attempt >= c.maxReconnectAttempts {
						c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
						return
					}

					delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
					jitter := time.Duration(float64(delay) * 0.1)
					actualDelay := delay + jitter
					c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": actualDelay.String()})

					select {
					case <-time.After(actualDelay):
						continue
					case <-wsCtx.Done():
						c.logger.Info(wsCtx, op+": Context cancelled during backoff.")
						return
					}
				}

				c.logger.Info(wsCtx, op+": WebSocket connection established.")
				attempt = 0

				select {
				case <-innerDoneCh:
					c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...")
					// Loop will continue and attempt reconnection
				case <-wsCtx.Done():
					c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.")
					select {
					case innerStopCh <- struct{}{}:
					default:
						c.logger.Warn(wsCtx, op+": Failed to send stop signal to inner WebSocket (already closed?).")
					}
					return
				}
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	// Link the external stopCh to the internal context cancellation
	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	// Close the external doneCh when the internal context is done
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

func translateTicker(st *binance.PriceChangeStats) (*domain.Ticker, error) {
	if st == nil {
		return nil, errors.New("received nil ticker stats")
	}
	last, err := strconv.ParseFloat(st.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing last price '%s': %w", st.LastPrice, err)
	}
	high, err := strconv.ParseFloat(st.HighPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", st.HighPrice, err)
	}
	low, err := strconv.ParseFloat(st.LowPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", st.LowPrice, err)
	}
	quoteVolume, err := strconv.ParseFloat(st.QuoteVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing quote volume '%s': %w", st.QuoteVolume, err)
	}
	percentChange, err := strconv.ParseFloat(st.PriceChangePercent, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing percent change '%s': %w", st.PriceChangePercent, err)
	}

	return &domain.Ticker{
		Symbol:        st.Symbol,
		LastPrice:     last,
		High:          high,
		Low:           low,
		QuoteVolume:   quoteVolume,
		PercentChange: percentChange,
	}, nil
}

func translateOrderResponse(order *binance.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	quantity, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quoteAmount, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	// Market orders report no single price; derive the average fill price.
	var avgPrice float64
	if quantity > 0 {
		avgPrice = quoteAmount / quantity
	}

	return &ports.OrderResponse{
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		Price:       avgPrice,
		Quantity:    quantity,
		QuoteAmount: quoteAmount,
		Status:      string(order.Status),
		Timestamp:   time.UnixMilli(order.TransactTime),
	}
}

func translateKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true, // Historical klines are always final
	}, nil
}

var _ ports.ExchangeClient = (*Client)(nil)
