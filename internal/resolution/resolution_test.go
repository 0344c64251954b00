package resolution

import (
	"errors"
	"testing"
	"time"

	"TickSentinel/internal/model"
)

func TestNormalize_Canonical(t *testing.T) {
	tests := []struct {
		input string
		want  Resolution
	}{
		{"1", Min1},
		{"5", Min5},
		{"15", Min15},
		{"30", Min30},
		{"60", Min60},
		{"120", Min120},
		{"D", Daily},
		{"W", Weekly},
		{"M", Monthly},
		{"1D", Daily},
		{"15M", Min15},
		{"15m", Min15},
		{"2H", Min120},
		{"2h", Min120},
		{"1H", Min60},
		{"240", Min120}, // no native 4-hour bucket
		{"4H", Min120},
		{" 30 ", Min30},
		{"d", Daily},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.input)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, input := range []string{"", "7", "3D", "banana", "0", "-5", "90"} {
		if _, err := Normalize(input); !errors.Is(err, ErrBadResolution) {
			t.Errorf("Normalize(%q): expected ErrBadResolution, got %v", input, err)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, input := range []string{"1", "5", "15M", "2H", "240", "1D", "D", "W", "M"} {
		once, err := Normalize(input)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", input, err)
		}
		twice, err := Normalize(string(once))
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)): %v", input, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", input, once, twice)
		}
	}
}

func TestMaxLookbackDays(t *testing.T) {
	tests := []struct {
		res  Resolution
		want int
	}{
		{Min1, 30},
		{Min15, 30},
		{Min30, 180},
		{Min60, 180},
		{Min120, 180},
		{Daily, 365},
		{Weekly, 365},
	}
	for _, tt := range tests {
		if got := tt.res.MaxLookbackDays(); got != tt.want {
			t.Errorf("%s.MaxLookbackDays() = %d, want %d", tt.res, got, tt.want)
		}
	}
}

func dayCandle(t time.Time, o, h, l, c, v float64) model.Candle {
	return model.Candle{Timestamp: t.Unix(), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestRollupWeekly_SingleWeek(t *testing.T) {
	// Mon 2024-01-08 through Fri 2024-01-12: one ISO week.
	mon := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	daily := []model.Candle{
		dayCandle(mon, 100, 105, 99, 104, 1000),
		dayCandle(mon.AddDate(0, 0, 1), 104, 110, 103, 108, 2000),
		dayCandle(mon.AddDate(0, 0, 2), 108, 109, 101, 102, 1500),
		dayCandle(mon.AddDate(0, 0, 3), 102, 107, 100, 106, 1200),
		dayCandle(mon.AddDate(0, 0, 4), 106, 112, 105, 111, 1800),
	}

	weekly := RollupWeekly(daily)
	if len(weekly) != 1 {
		t.Fatalf("expected 1 weekly candle, got %d", len(weekly))
	}
	w := weekly[0]
	if w.Open != 100 {
		t.Errorf("open = %.1f, want first day's open 100", w.Open)
	}
	if w.High != 112 {
		t.Errorf("high = %.1f, want max 112", w.High)
	}
	if w.Low != 99 {
		t.Errorf("low = %.1f, want min 99", w.Low)
	}
	if w.Close != 111 {
		t.Errorf("close = %.1f, want last day's close 111", w.Close)
	}
	if w.Volume != 7500 {
		t.Errorf("volume = %.1f, want sum 7500", w.Volume)
	}
	if w.Timestamp != daily[0].Timestamp {
		t.Errorf("timestamp = %d, want first member's %d", w.Timestamp, daily[0].Timestamp)
	}
}

func TestRollupWeekly_SpansWeeks(t *testing.T) {
	fri := time.Date(2024, 1, 12, 9, 15, 0, 0, time.UTC)
	nextMon := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	daily := []model.Candle{
		dayCandle(fri, 100, 105, 99, 104, 1000),
		dayCandle(nextMon, 104, 108, 103, 107, 2000),
	}
	weekly := RollupWeekly(daily)
	if len(weekly) != 2 {
		t.Fatalf("expected 2 weekly candles across the week boundary, got %d", len(weekly))
	}
	if weekly[0].Timestamp >= weekly[1].Timestamp {
		t.Error("weekly rollup not ascending")
	}
}

func TestRollupMonthly(t *testing.T) {
	jan := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	daily := []model.Candle{
		dayCandle(jan, 100, 105, 99, 104, 1000),
		dayCandle(jan.AddDate(0, 0, 1), 104, 111, 102, 110, 500),
		dayCandle(feb, 110, 115, 109, 114, 700),
	}
	monthly := RollupMonthly(daily)
	if len(monthly) != 2 {
		t.Fatalf("expected 2 monthly candles, got %d", len(monthly))
	}
	if monthly[0].Close != 110 || monthly[0].Volume != 1500 {
		t.Errorf("january rollup wrong: close=%.1f volume=%.1f", monthly[0].Close, monthly[0].Volume)
	}
	if monthly[1].Open != 110 {
		t.Errorf("february open = %.1f, want 110", monthly[1].Open)
	}
}

func TestRollup_Empty(t *testing.T) {
	if got := RollupWeekly(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}
