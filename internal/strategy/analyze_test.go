package strategy

import (
	"testing"
	"time"

	"TickSentinel/internal/model"
)

func smaSnapshot(s20, s50, s200 float64, ts int64) *model.SMASnapshot {
	return &model.SMASnapshot{
		SMA20:  &model.SMAValue{Value: s20, Timestamp: ts},
		SMA50:  &model.SMAValue{Value: s50, Timestamp: ts},
		SMA200: &model.SMAValue{Value: s200, Timestamp: ts},
	}
}

// bullishWindow builds a steadily rising daily series ending 2024-07-10,
// spanning enough ISO weeks and months that completed weekly and monthly
// rollups exist and close above their opens. Every candle has range 2
// except the last, which has range 10 and so beats the prior seven.
func bullishWindow() []model.Candle {
	end := time.Date(2024, 7, 10, 9, 15, 0, 0, time.UTC)
	const days = 24
	candles := make([]model.Candle, days)
	for i := 0; i < days; i++ {
		day := end.AddDate(0, 0, i-days+1)
		p := 100 + float64(i)
		candles[i] = model.Candle{
			Timestamp: day.Unix(),
			Open:      p - 0.5,
			High:      p + 1,
			Low:       p - 1,
			Close:     p,
			Volume:    15000,
		}
	}
	last := &candles[days-1]
	last.High = last.Close + 6
	last.Low = last.Close - 4
	return candles
}

func TestAnalyze_AllConditionsBullish(t *testing.T) {
	daily := bullishWindow()
	ts := daily[len(daily)-1].Timestamp
	v := Analyze("NSE:SBIN-EQ", daily, smaSnapshot(105, 100, 90, ts), ts)
	if v == nil {
		t.Fatal("expected a verdict")
	}

	checks := []struct {
		name string
		got  bool
	}{
		{"rangeOK", v.RangeOK},
		{"closeGTopen", v.CloseGTOpen},
		{"closeGTyest", v.CloseGTYest},
		{"volYestOK", v.VolYestOK},
		{"weeklyBullish", v.WeeklyBullish},
		{"monthlyBullish", v.MonthlyBullish},
		{"smaOK", v.SMAOK},
	}
	for _, c := range checks {
		if !c.got {
			t.Errorf("%s = false, want true", c.name)
		}
	}
	if !v.Bullish {
		t.Error("bullish = false with all conditions holding")
	}
}

func TestAnalyze_VolYestFlipBreaksOnlyThatFlag(t *testing.T) {
	daily := bullishWindow()
	daily[len(daily)-2].Volume = 5000
	ts := daily[len(daily)-1].Timestamp

	v := Analyze("NSE:SBIN-EQ", daily, smaSnapshot(105, 100, 90, ts), ts)
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.VolYestOK {
		t.Error("volYestOK = true with yesterday's volume 5000")
	}
	if v.Bullish {
		t.Error("bullish must fail when any condition fails")
	}
	// Everything else is unchanged.
	if !v.RangeOK || !v.CloseGTOpen || !v.CloseGTYest || !v.WeeklyBullish || !v.MonthlyBullish || !v.SMAOK {
		t.Errorf("unrelated flags flipped: %+v", v)
	}
}

func TestAnalyze_SMAOrderingStrict(t *testing.T) {
	daily := bullishWindow()
	ts := daily[len(daily)-1].Timestamp

	// sma20 == sma50 is not an upward stack.
	v := Analyze("NSE:SBIN-EQ", daily, smaSnapshot(100, 100, 90, ts), ts)
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.SMAOK || v.Bullish {
		t.Error("expected smaOK=false for non-strict ordering")
	}
}

func TestAnalyze_InsufficientDataIsNoVerdict(t *testing.T) {
	daily := bullishWindow()
	ts := daily[len(daily)-1].Timestamp

	if v := Analyze("NSE:SBIN-EQ", daily[:5], smaSnapshot(105, 100, 90, ts), ts); v != nil {
		t.Errorf("expected nil verdict under 10 daily candles, got %+v", v)
	}
	incomplete := &model.SMASnapshot{SMA20: &model.SMAValue{Value: 105}}
	if v := Analyze("NSE:SBIN-EQ", daily, incomplete, ts); v != nil {
		t.Errorf("expected nil verdict with incomplete SMA snapshot, got %+v", v)
	}
	if v := Analyze("NSE:SBIN-EQ", daily, nil, ts); v != nil {
		t.Errorf("expected nil verdict with no SMA snapshot, got %+v", v)
	}
}

func TestLastCompleted_ExcludesFormingPeriod(t *testing.T) {
	daily := bullishWindow()
	today := daily[len(daily)-1].Timestamp

	ts := time.Unix(today, 0)
	weekStart := ts.AddDate(0, 0, -int(ts.Weekday())+1)

	groups := []model.Candle{
		{Timestamp: weekStart.AddDate(0, 0, -7).Unix(), Open: 100, Close: 110},
		{Timestamp: weekStart.Unix(), Open: 110, Close: 90}, // this week, still forming
	}
	got := lastCompleted(groups, today, sameISOWeek)
	if got == nil {
		t.Fatal("expected a completed week")
	}
	if got.Close != 110 {
		t.Errorf("picked the forming week: %+v", got)
	}

	// A single, still-forming group has no completed predecessor.
	if lastCompleted(groups[1:], today, sameISOWeek) != nil {
		t.Error("expected nil when the only group is still forming")
	}
}
