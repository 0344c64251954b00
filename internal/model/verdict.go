package model

// Verdict is the full condition bundle produced by one strategy analysis.
// A Verdict is replaced wholesale on every re-analysis, never merged.
type Verdict struct {
	Symbol         string  `json:"symbol"`
	Bullish        bool    `json:"bullish"`
	RangeOK        bool    `json:"rangeOK"`
	CloseGTOpen    bool    `json:"closeGTopen"`
	CloseGTYest    bool    `json:"closeGTyest"`
	VolYestOK      bool    `json:"volYestOK"`
	WeeklyBullish  bool    `json:"weeklyBullish"`
	MonthlyBullish bool    `json:"monthlyBullish"`
	SMAOK          bool    `json:"smaOK"`
	SMA20          float64 `json:"sma20"`
	SMA50          float64 `json:"sma50"`
	SMA200         float64 `json:"sma200"`
	Close          float64 `json:"close"`
	Open           float64 `json:"open"`
	Timestamp      int64   `json:"timestamp"`
}

// TradeSignal is the actionable payload carried by a signal-open event.
// Stop and target are fixed percentage bands off the entry close.
type TradeSignal struct {
	Symbol           string  `json:"symbol"`
	Exchange         string  `json:"exchange"`
	Type             string  `json:"type"` // always "BUY"
	Price            float64 `json:"price"`
	Change           float64 `json:"change"`
	ChangePercentage float64 `json:"changePercentage"`
	EntryPrice       float64 `json:"entryPrice"`
	StopLoss         float64 `json:"stopLoss"`
	Target           float64 `json:"target"`
	EntryTime        string  `json:"entryTime"`
	EntryDate        string  `json:"entryDate"`
	IsProfit         bool    `json:"isProfit"`
}
