package domain

// Ticker holds the 24h market statistics for a single symbol.
type Ticker struct {
	Symbol        string  // Trading symbol (e.g., "BTCUSDT")
	LastPrice     float64 // Last traded price
	High          float64 // 24h high
	Low           float64 // 24h low
	QuoteVolume   float64 // 24h traded value in the quote asset
	PercentChange float64 // 24h price change percentage
}
