// Package resolution maps user-supplied resolution strings onto the
// canonical tokens the rest of the system speaks, and rolls daily candles
// up into weekly and monthly bars.
package resolution

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"TickSentinel/internal/model"
)

// Resolution is a canonical resolution token: a minute count out of
// {1,5,15,30,60,120}, or Daily/Weekly/Monthly.
type Resolution string

const (
	Min1    Resolution = "1"
	Min5    Resolution = "5"
	Min15   Resolution = "15"
	Min30   Resolution = "30"
	Min60   Resolution = "60"
	Min120  Resolution = "120"
	Daily   Resolution = "D"
	Weekly  Resolution = "W"
	Monthly Resolution = "M"
)

// ErrBadResolution is returned when an input cannot be normalized to a
// canonical token. It surfaces synchronously at the control endpoint and
// never reaches the engine.
var ErrBadResolution = errors.New("bad resolution")

var (
	minuteSuffix = regexp.MustCompile(`^(\d+)M$`)
	hourSuffix   = regexp.MustCompile(`^(\d+)H$`)
)

var minuteTokens = map[string]bool{
	"1": true, "5": true, "15": true, "30": true, "60": true, "120": true,
}

// Normalize converts raw user input ("240", "2H", "15m", "1D") into a
// canonical Resolution. "240" collapses to "120": there is no native
// 4-hour bucket, so 4h requests are served with 2h bars.
func Normalize(input string) (Resolution, error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrBadResolution)
	}

	if s == "240" {
		return Min120, nil
	}
	if m := minuteSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if m := hourSuffix.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrBadResolution, input)
		}
		s = strconv.Itoa(n * 60)
	}
	if s == "1D" {
		return Daily, nil
	}
	// "4H" lands here as 240 and takes the same 2-hour fallback.
	if s == "240" {
		return Min120, nil
	}

	switch s {
	case "D", "W", "M":
		return Resolution(s), nil
	}
	if minuteTokens[s] {
		return Resolution(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadResolution, input)
}

// Minutes returns the bucket width in minutes for intraday resolutions,
// and 0 for D/W/M.
func (r Resolution) Minutes() int {
	switch r {
	case Daily, Weekly, Monthly:
		return 0
	}
	n, err := strconv.Atoi(string(r))
	if err != nil {
		return 0
	}
	return n
}

// Intraday reports whether r is a minute-bucketed resolution.
func (r Resolution) Intraday() bool { return r.Minutes() > 0 }

// MaxLookbackDays is the broker-imposed look-back window cap in calendar
// days for a given resolution.
func (r Resolution) MaxLookbackDays() int {
	m := r.Minutes()
	switch {
	case m == 0:
		return 365
	case m <= 15:
		return 30
	case m <= 120:
		return 180
	default:
		return 365
	}
}

// RollupWeekly groups daily candles by ISO week and year. Group open is the
// first member's open by arrival order, high/low are the extremes, close is
// the last member's close, volume is the sum. Output is ascending by each
// group's first timestamp.
func RollupWeekly(daily []model.Candle) []model.Candle {
	return rollup(daily, func(t time.Time) int {
		y, w := t.ISOWeek()
		return y*100 + w
	})
}

// RollupMonthly groups daily candles by year and month.
func RollupMonthly(daily []model.Candle) []model.Candle {
	return rollup(daily, func(t time.Time) int {
		return t.Year()*100 + int(t.Month())
	})
}

func rollup(daily []model.Candle, keyOf func(time.Time) int) []model.Candle {
	if len(daily) == 0 {
		return nil
	}
	var out []model.Candle
	cur := daily[0]
	curKey := keyOf(time.Unix(daily[0].Timestamp, 0))

	for _, d := range daily[1:] {
		key := keyOf(time.Unix(d.Timestamp, 0))
		if key != curKey {
			out = append(out, cur)
			cur = d
			curKey = key
			continue
		}
		if d.High > cur.High {
			cur.High = d.High
		}
		if d.Low < cur.Low {
			cur.Low = d.Low
		}
		cur.Close = d.Close
		cur.Volume += d.Volume
	}
	out = append(out, cur)
	return out
}
