package calculator

import (
	"math"
	"testing"

	"TickSentinel/internal/model"
)

func TestSlidingSMA_MatchesDirect(t *testing.T) {
	prices := make([]float64, 250)
	for i := range prices {
		prices[i] = 100 + float64(i%17) + float64(i)*0.1
	}

	for _, period := range []int{20, 50, 200} {
		got := SlidingSMA(prices, period)
		if len(got) != len(prices) {
			t.Fatalf("period %d: length %d, want %d", period, len(got), len(prices))
		}
		for i := range prices {
			if i < period-1 {
				if !math.IsNaN(got[i]) {
					t.Errorf("period %d index %d: expected NaN before window fills, got %f", period, i, got[i])
				}
				continue
			}
			sum := 0.0
			for j := i - period + 1; j <= i; j++ {
				sum += prices[j]
			}
			want := sum / float64(period)
			if math.Abs(got[i]-want) > 1e-9 {
				t.Errorf("period %d index %d: got %f, want %f", period, i, got[i], want)
			}
		}
	}
}

func TestCalculateSMA_Insufficient(t *testing.T) {
	if _, err := CalculateSMA([]float64{1, 2, 3}, 5); err == nil {
		t.Error("expected error for short series")
	}
	if _, err := CalculateSMA([]float64{1, 2, 3}, 0); err == nil {
		t.Error("expected error for non-positive period")
	}
}

func rangeCandle(ts int64, high, low float64) model.Candle {
	return model.Candle{Timestamp: ts, Open: low, High: high, Low: low, Close: high}
}

func TestRangeExceedsPrior(t *testing.T) {
	candles := []model.Candle{
		rangeCandle(1, 105, 100), // range 5
		rangeCandle(2, 104, 100), // 4
		rangeCandle(3, 106, 100), // 6
		rangeCandle(4, 103, 100), // 3
		rangeCandle(5, 105, 101), // 4
		rangeCandle(6, 107, 102), // 5
		rangeCandle(7, 104, 100), // 4
		rangeCandle(8, 110, 100), // 10: beats all prior seven
	}
	if !RangeExceedsPrior(candles, 7) {
		t.Error("expected today's range to beat all seven prior ranges")
	}

	// Equal range on one prior day: strict comparison fails.
	candles[2] = rangeCandle(3, 110, 100)
	if RangeExceedsPrior(candles, 7) {
		t.Error("expected failure when a prior range equals today's")
	}
}

func TestRangeExceedsPrior_ShortWindow(t *testing.T) {
	candles := []model.Candle{rangeCandle(1, 105, 100), rangeCandle(2, 110, 100)}
	if RangeExceedsPrior(candles, 7) {
		t.Error("expected false when window shorter than lookback+1")
	}
}
