package model

// Tick is one live market update for a symbol. Only "sf" (symbol feed)
// messages from the market-data socket are converted into Ticks; other
// message types are dropped at the feed boundary.
type Tick struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Open   float64 `json:"open_price"`
	High   float64 `json:"high_price"`
	Low    float64 `json:"low_price"`
	Volume float64 `json:"volume"`
}
