// Package risk holds the pure risk arithmetic of the bot: dynamic stop-loss,
// adaptive monitor scheduling and position sizing. No I/O happens here.
package risk

import (
	"math"
	"math/rand"
	"time"
)

const (
	// Safe fallbacks applied when sizing configuration is out of range.
	DefaultStakePercent = 0.1
	DefaultMaxStake     = 1000.0

	// maxTimeFactor caps how much of the unrealized profit gets locked in by
	// the time-based ratchet (reached after 24h * maxTimeFactor of holding).
	maxTimeFactor = 0.8
)

// StopLoss computes the effective stop-loss price for a long position.
// The static floor is entryPrice*(1-baseThreshold). While the position is in
// profit the stop ratchets upward with holding time, locking in part of the
// gain; it never drops below the static floor.
func StopLoss(entryPrice, currentPrice, hoursHeld, baseThreshold float64) float64 {
	base := entryPrice * (1 - baseThreshold)
	if currentPrice <= entryPrice {
		return base
	}

	profitPercent := currentPrice/entryPrice - 1
	timeFactor := math.Min(hoursHeld/24, maxTimeFactor)
	profitLock := profitPercent * timeFactor
	candidate := entryPrice * (1 + profitLock - baseThreshold*(1-timeFactor))
	return math.Max(base, candidate)
}

// NextCheckInterval derives how long the monitor may sleep before the next
// evaluation, given the hours remaining until the nearest planned exit.
// The result is monotone non-decreasing in hoursToExit and always within
// [quickInterval, baseInterval].
func NextCheckInterval(hoursToExit float64, baseInterval, quickInterval time.Duration, thresholdHours float64) time.Duration {
	if thresholdHours <= 0 || quickInterval >= baseInterval {
		return baseInterval
	}

	mid := (quickInterval + baseInterval) / 2
	switch {
	case hoursToExit <= thresholdHours/2:
		return quickInterval
	case hoursToExit <= thresholdHours:
		// Ramp from quickInterval at threshold/2 up to mid at threshold.
		f := (hoursToExit - thresholdHours/2) / (thresholdHours / 2)
		return quickInterval + time.Duration(f*float64(mid-quickInterval))
	case hoursToExit <= 2*thresholdHours:
		// Ramp toward baseInterval. The lower anchor is floored at mid so the
		// function stays monotone across the threshold boundary.
		lo := baseInterval / 2
		if lo < mid {
			lo = mid
		}
		f := (hoursToExit - thresholdHours) / thresholdHours
		return lo + time.Duration(f*float64(baseInterval-lo))
	default:
		return baseInterval
	}
}

// PositionSize computes the total quote-asset stake for one entry cycle.
// Out-of-range configuration falls back to the safe defaults as a second line
// of defense; config load already corrects and warns about such values.
func PositionSize(availableBalance, stakePercent, maxStake float64) float64 {
	if stakePercent <= 0 || stakePercent > 1 {
		stakePercent = DefaultStakePercent
	}
	if maxStake <= 0 {
		maxStake = DefaultMaxStake
	}
	if availableBalance <= 0 {
		return 0
	}
	return math.Min(availableBalance*stakePercent, maxStake)
}

// ChooseHoldHours picks a holding period from the configured pool.
// An empty pool yields the middle of the classic 8/10/12 split.
func ChooseHoldHours(pool []int, rng *rand.Rand) int {
	if len(pool) == 0 {
		return 10
	}
	if rng == nil {
		return pool[rand.Intn(len(pool))]
	}
	return pool[rng.Intn(len(pool))]
}
