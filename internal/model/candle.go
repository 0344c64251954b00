package model

// Candle represents a single OHLCV bar for one time bucket.
// Timestamp is epoch seconds of the bucket start. Candles are ordered
// ascending by Timestamp within a (symbol, resolution) partition and are
// immutable once persisted, except for the open candle of the live session
// which is mutated in place by ticks.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// SMAValue is a single cached moving-average reading: the value and the
// timestamp of the candle it was computed through.
type SMAValue struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// SMASnapshot holds the three tracked moving averages for one
// (symbol, resolution). A period with fewer than N candles behind it has a
// nil entry, never a zero.
type SMASnapshot struct {
	SMA20  *SMAValue `json:"sma20"`
	SMA50  *SMAValue `json:"sma50"`
	SMA200 *SMAValue `json:"sma200"`
}

// Complete reports whether all three periods are present.
func (s *SMASnapshot) Complete() bool {
	return s != nil && s.SMA20 != nil && s.SMA50 != nil && s.SMA200 != nil
}
