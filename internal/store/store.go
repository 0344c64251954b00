package store

import (
	"errors"

	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
)

// SMAPeriods are the tracked moving-average windows. Any other period is a
// contract violation at the store boundary.
var SMAPeriods = [3]int{20, 50, 200}

// ErrBadPeriod is returned by GetCachedSMA for a period outside SMAPeriods.
var ErrBadPeriod = errors.New("unsupported SMA period")

// CandleStore persists and serves OHLCV candles and derived SMA values,
// partitioned by (symbol, resolution). Storage errors are returned to the
// caller, which treats them as a cache miss and falls back to the network;
// they never crash the process.
type CandleStore interface {
	// StoreCandles upserts candles into the partition and recomputes the
	// partition's SMA columns in a single sweep. Idempotent: replaying the
	// same slice produces no duplicates and the same SMA values.
	StoreCandles(symbol string, res resolution.Resolution, candles []model.Candle) error

	// GetCandles returns ascending-ordered candles within the closed
	// interval [fromTs, toTs]. A miss yields an empty slice, not an error.
	GetCandles(symbol string, res resolution.Resolution, fromTs, toTs int64) ([]model.Candle, error)

	// CountCandles reports how many candles the partition holds within
	// [fromTs, toTs]; used to decide cache sufficiency before hitting the
	// network.
	CountCandles(symbol string, res resolution.Resolution, fromTs, toTs int64) (int, error)

	// GetCachedSMA returns the most recent non-null SMA value for a period
	// in SMAPeriods, or nil when the partition has none.
	GetCachedSMA(symbol string, res resolution.Resolution, period int) (*model.SMAValue, error)

	// CacheSMA stores the given candles and recomputes SMA columns. When
	// len(candles) < period this is a silent no-op: insufficient data is a
	// documented non-event, not an error.
	CacheSMA(symbol string, res resolution.Resolution, period int, candles []model.Candle) error

	Close() error
}

func validPeriod(period int) bool {
	for _, p := range SMAPeriods {
		if p == period {
			return true
		}
	}
	return false
}
