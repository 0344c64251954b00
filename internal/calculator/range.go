package calculator

import "TickSentinel/internal/model"

// RangeExceedsPrior reports whether the last candle's high-low range
// strictly exceeds the range of each of the preceding lookback candles.
// Returns false when the window is too short to compare.
func RangeExceedsPrior(candles []model.Candle, lookback int) bool {
	n := len(candles)
	if n < lookback+1 {
		return false
	}
	today := candles[n-1]
	todayRange := today.High - today.Low
	for i := n - 1 - lookback; i < n-1; i++ {
		if todayRange <= candles[i].High-candles[i].Low {
			return false
		}
	}
	return true
}
