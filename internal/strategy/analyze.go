package strategy

import (
	"time"

	"TickSentinel/internal/calculator"
	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
)

// minDailyWindow is the smallest daily history that produces a verdict.
const minDailyWindow = 10

// rangeLookback is how many preceding daily ranges today's range must beat.
const rangeLookback = 7

// volumeFloor is the minimum acceptable volume on yesterday's candle.
const volumeFloor = 10_000

// Analyze computes the bullish verdict for a symbol from its daily window
// and the SMA snapshot of the engine's current resolution. All seven
// conditions must hold for a bullish verdict. Returns nil when the window
// is shorter than minDailyWindow or the snapshot is incomplete: too little
// data is a non-event, not a failure.
func Analyze(symbol string, daily []model.Candle, sma *model.SMASnapshot, ts int64) *model.Verdict {
	if len(daily) < minDailyWindow || !sma.Complete() {
		return nil
	}

	today := daily[len(daily)-1]
	yest := daily[len(daily)-2]

	weekly := resolution.RollupWeekly(daily)
	monthly := resolution.RollupMonthly(daily)
	lastWeek := lastCompleted(weekly, today.Timestamp, sameISOWeek)
	lastMonth := lastCompleted(monthly, today.Timestamp, sameMonth)

	v := &model.Verdict{
		Symbol:      symbol,
		RangeOK:     calculator.RangeExceedsPrior(daily, rangeLookback),
		CloseGTOpen: today.Close > today.Open,
		CloseGTYest: today.Close > yest.Close,
		VolYestOK:   yest.Volume > volumeFloor,
		SMAOK:       sma.SMA20.Value > sma.SMA50.Value && sma.SMA50.Value > sma.SMA200.Value,
		SMA20:       sma.SMA20.Value,
		SMA50:       sma.SMA50.Value,
		SMA200:      sma.SMA200.Value,
		Close:       today.Close,
		Open:        today.Open,
		Timestamp:   ts,
	}
	if lastWeek != nil {
		v.WeeklyBullish = lastWeek.Close > lastWeek.Open
	}
	if lastMonth != nil {
		v.MonthlyBullish = lastMonth.Close > lastMonth.Open
	}

	v.Bullish = v.RangeOK && v.CloseGTOpen && v.CloseGTYest && v.VolYestOK &&
		v.WeeklyBullish && v.MonthlyBullish && v.SMAOK
	return v
}

// lastCompleted picks the most recent rollup candle whose period does not
// contain todayTs; the group holding today is still forming.
func lastCompleted(groups []model.Candle, todayTs int64, samePeriod func(a, b time.Time) bool) *model.Candle {
	if len(groups) == 0 {
		return nil
	}
	last := groups[len(groups)-1]
	if samePeriod(time.Unix(last.Timestamp, 0), time.Unix(todayTs, 0)) {
		if len(groups) < 2 {
			return nil
		}
		return &groups[len(groups)-2]
	}
	return &last
}

func sameISOWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
