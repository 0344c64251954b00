// Package strategy keeps per-symbol candle and moving-average state fresh
// and turns live ticks into bullish/not-bullish verdicts.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"TickSentinel/internal/calculator"
	"TickSentinel/internal/fetch"
	"TickSentinel/internal/metrics"
	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
	"TickSentinel/internal/signal"
	"TickSentinel/internal/store"
)

// Phase is a symbol's hydration state. A symbol is Uninitialized until both
// its daily window and SMA snapshot have been loaded; degraded hydrations
// leave it Uninitialized so the scheduled refresh can tell retries apart
// from routine re-analysis.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
)

// dailyWindowDays is the daily history window kept per symbol.
const dailyWindowDays = 300

// smaTarget is the candle count requested when hydrating an SMA snapshot;
// a little above 200 so the longest window has headroom.
const smaTarget = 210

// symbolState is one symbol's live state. Created on first tick, replaced
// field-by-field by hydration, read by every analysis.
type symbolState struct {
	phase       Phase
	daily       []model.Candle
	sma         *model.SMASnapshot
	lastVerdict *model.Verdict
	lastPrice   float64
	lastVolume  float64

	// Same-calendar-day freshness gates; best-effort, not persisted.
	lastDailyDate string
	lastSMADate   string
	lastSMARes    resolution.Resolution
}

// Engine owns the tick-to-verdict pipeline. The candle store is the source
// of truth on cache miss; the fetcher backfills it from the broker.
type Engine struct {
	store   store.CandleStore
	fetcher *fetch.HistoricalFetcher
	bus     *signal.Bus

	mu      sync.Mutex
	res     resolution.Resolution
	symbols map[string]*symbolState

	// Collapses overlapping hydrations for the same symbol: a tick arriving
	// while a fetch is in flight waits for that fetch instead of issuing a
	// duplicate broker call.
	flight singleflight.Group

	now func() time.Time
}

// NewEngine builds an engine at the given starting resolution.
func NewEngine(cs store.CandleStore, f *fetch.HistoricalFetcher, bus *signal.Bus, res resolution.Resolution) *Engine {
	return &Engine{
		store:   cs,
		fetcher: f,
		bus:     bus,
		res:     res,
		symbols: make(map[string]*symbolState),
		now:     time.Now,
	}
}

// Resolution returns the engine-wide resolution.
func (e *Engine) Resolution() resolution.Resolution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res
}

// Symbols lists every symbol the engine has seen a tick for.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		out = append(out, sym)
	}
	return out
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{phase: Uninitialized}
		e.symbols[symbol] = st
	}
	return st
}

// Tick feeds one live tick into the pipeline: hydrate if needed, mutate
// the open daily candle, persist it, analyze, and let the bus diff the
// verdict. Returns the fresh verdict, or nil when there is not enough data
// to produce one.
func (e *Engine) Tick(ctx context.Context, symbol string, price, volume float64) (*model.Verdict, error) {
	st := e.state(symbol)

	if err := e.ensureDaily(ctx, symbol); err != nil {
		if errors.Is(err, fetch.ErrExhausted) {
			metrics.FetchFailuresTotal.WithLabelValues(symbol).Inc()
			log.Printf("[WARN] %s degraded this cycle: %v", symbol, err)
			return nil, nil
		}
		return nil, err
	}
	if err := e.ensureSMA(ctx, symbol); err != nil {
		if errors.Is(err, fetch.ErrExhausted) {
			metrics.FetchFailuresTotal.WithLabelValues(symbol).Inc()
			log.Printf("[WARN] %s degraded this cycle: %v", symbol, err)
			return nil, nil
		}
		return nil, err
	}

	e.mu.Lock()
	if st.phase == Uninitialized {
		st.phase = Ready
		log.Printf("[INFO] %s hydrated and ready", symbol)
	}
	e.mu.Unlock()

	today := e.applyTick(symbol, price, volume)

	// Persist the mutated open candle. A storage failure degrades to an
	// in-memory-only update; the next hydration reconciles.
	if err := e.store.StoreCandles(symbol, resolution.Daily, []model.Candle{today}); err != nil {
		log.Printf("[WARN] persist live candle %s: %v", symbol, err)
	}

	return e.analyze(symbol), nil
}

// applyTick mutates the in-memory "today" candle in place: close follows
// the price, high/low extend their envelope, and the feed's volume (a
// cumulative session total) replaces the candle's volume when present.
// Starts a fresh candle when the session date has rolled over.
func (e *Engine) applyTick(symbol string, price, volume float64) model.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.symbols[symbol]
	st.lastPrice = price
	st.lastVolume = volume

	now := e.now()
	bucket := dayStart(now)

	// Broker daily timestamps may carry the exchange's session-open time,
	// so today's candle is matched by calendar date, not exact bucket.
	n := len(st.daily)
	if n > 0 && e.dateOf(time.Unix(st.daily[n-1].Timestamp, 0)) == e.dateOf(now) {
		c := &st.daily[n-1]
		c.Close = price
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		if volume > 0 {
			c.Volume = volume
		}
		return *c
	}

	c := model.Candle{Timestamp: bucket, Open: price, High: price, Low: price, Close: price, Volume: volume}
	st.daily = append(st.daily, c)
	return c
}

func (e *Engine) analyze(symbol string) *model.Verdict {
	e.mu.Lock()
	st := e.symbols[symbol]
	daily := st.daily
	sma := st.sma
	e.mu.Unlock()

	v := Analyze(symbol, daily, sma, e.now().Unix())
	if v == nil {
		return nil
	}

	e.mu.Lock()
	st.lastVerdict = v
	e.mu.Unlock()

	e.bus.Publish(v)
	return v
}

// ensureDaily loads the 300-day daily window, fetching from the broker
// when the stored window does not reach today. Fetching daily data also
// leaves the daily SMA columns populated, which amortizes later resolution
// switches.
func (e *Engine) ensureDaily(ctx context.Context, symbol string) error {
	today := e.dateOf(e.now())

	e.mu.Lock()
	st := e.symbols[symbol]
	if st.lastDailyDate == today && len(st.daily) > 0 {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	v, err, _ := e.flight.Do("daily|"+symbol, func() (interface{}, error) {
		return e.hydrateDaily(ctx, symbol)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	st.daily = v.([]model.Candle)
	st.lastDailyDate = today
	e.mu.Unlock()
	return nil
}

func (e *Engine) hydrateDaily(ctx context.Context, symbol string) ([]model.Candle, error) {
	now := e.now()
	from := now.AddDate(0, 0, -dailyWindowDays).Unix()

	candles, err := e.store.GetCandles(symbol, resolution.Daily, from, now.Unix())
	if err != nil {
		log.Printf("[WARN] read daily window %s: %v", symbol, err)
		candles = nil
	}
	if len(candles) > 0 && e.dateOf(time.Unix(candles[len(candles)-1].Timestamp, 0)) == e.dateOf(now) {
		return candles, nil
	}

	log.Printf("[INFO] hydrating daily window for %s", symbol)
	fetched, err := e.fetcher.GetHistoricalData(ctx, symbol, resolution.Daily, dailyWindowDays, smaTarget)
	if err != nil {
		if len(candles) > 0 {
			// Stale but usable; the live tick will still move today's candle.
			log.Printf("[WARN] daily refresh %s failed, using stale window: %v", symbol, err)
			return candles, nil
		}
		return nil, fmt.Errorf("hydrate daily %s: %w", symbol, err)
	}

	// Eager daily SMA cache as a hydration side effect.
	for _, p := range store.SMAPeriods {
		if err := e.store.CacheSMA(symbol, resolution.Daily, p, fetched); err != nil {
			log.Printf("[WARN] cache daily sma%d %s: %v", p, symbol, err)
		}
	}
	return fetched, nil
}

// ensureSMA makes the SMA snapshot for the engine's current resolution
// available, fetching and persisting history when the store has no cached
// values yet. The date marker is honored even when the snapshot stays
// incomplete (too little history for the longer periods): hydrating again
// the same day cannot improve it, only burn broker calls. Errors leave the
// marker unset so the next tick retries.
func (e *Engine) ensureSMA(ctx context.Context, symbol string) error {
	today := e.dateOf(e.now())

	e.mu.Lock()
	st := e.symbols[symbol]
	res := e.res
	if st.lastSMADate == today && st.lastSMARes == res {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	v, err, _ := e.flight.Do("sma|"+symbol+"|"+string(res), func() (interface{}, error) {
		return e.hydrateSMA(ctx, symbol, res)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	st.sma = v.(*model.SMASnapshot)
	st.lastSMADate = today
	st.lastSMARes = res
	e.mu.Unlock()
	return nil
}

func (e *Engine) hydrateSMA(ctx context.Context, symbol string, res resolution.Resolution) (*model.SMASnapshot, error) {
	// Weekly/monthly series are rollup-derived and never persisted, so
	// their snapshots are computed in memory.
	if res == resolution.Weekly || res == resolution.Monthly {
		candles, err := e.fetcher.GetHistoricalData(ctx, symbol, res, smaTarget, smaTarget)
		if err != nil {
			return nil, fmt.Errorf("hydrate %s sma %s: %w", res, symbol, err)
		}
		return snapshotFromCandles(candles), nil
	}

	snap, err := e.loadSnapshot(symbol, res)
	if err != nil {
		log.Printf("[WARN] read cached sma %s/%s: %v", symbol, res, err)
	}
	if snap.Complete() {
		return snap, nil
	}

	log.Printf("[INFO] hydrating %s SMA for %s", res, symbol)
	candles, err := e.fetcher.GetHistoricalData(ctx, symbol, res, smaLookbackDays(res), smaTarget)
	if err != nil {
		return nil, fmt.Errorf("hydrate sma %s/%s: %w", symbol, res, err)
	}
	for _, p := range store.SMAPeriods {
		if err := e.store.CacheSMA(symbol, res, p, candles); err != nil {
			log.Printf("[WARN] cache sma%d %s/%s: %v", p, symbol, res, err)
			// Storage failure: fall back to an in-memory snapshot.
			return snapshotFromCandles(candles), nil
		}
	}

	snap, err = e.loadSnapshot(symbol, res)
	if err != nil {
		return snapshotFromCandles(candles), nil
	}
	return snap, nil
}

func (e *Engine) loadSnapshot(symbol string, res resolution.Resolution) (*model.SMASnapshot, error) {
	snap := &model.SMASnapshot{}
	targets := []**model.SMAValue{&snap.SMA20, &snap.SMA50, &snap.SMA200}
	for i, p := range store.SMAPeriods {
		v, err := e.store.GetCachedSMA(symbol, res, p)
		if err != nil {
			return snap, err
		}
		*targets[i] = v
	}
	return snap, nil
}

// snapshotFromCandles computes the three SMAs directly; periods without
// enough candles stay absent.
func snapshotFromCandles(candles []model.Candle) *model.SMASnapshot {
	snap := &model.SMASnapshot{}
	if len(candles) == 0 {
		return snap
	}
	closes := calculator.Closes(candles)
	ts := candles[len(candles)-1].Timestamp
	targets := []**model.SMAValue{&snap.SMA20, &snap.SMA50, &snap.SMA200}
	for i, p := range store.SMAPeriods {
		if v, err := calculator.CalculateSMA(closes, p); err == nil {
			*targets[i] = &model.SMAValue{Value: v, Timestamp: ts}
		}
	}
	return snap
}

// smaLookbackDays maps a resolution onto a calendar look-back that should
// yield at least smaTarget candles, within the broker's window caps.
func smaLookbackDays(res resolution.Resolution) int {
	switch res.Minutes() {
	case 1:
		return 7
	case 5:
		return 30
	case 15:
		return 30
	case 30:
		return 60
	case 60:
		return 120
	case 120:
		return 180
	default:
		return dailyWindowDays
	}
}

// SetResolution normalizes and installs a new engine-wide resolution.
// Unchanged input is a no-op; a change drops every symbol's SMA snapshot so
// the next tick or bulk analysis reloads under the new resolution.
// In-flight fetches for the old resolution complete but their results are
// superseded on next access.
func (e *Engine) SetResolution(input string) (resolution.Resolution, error) {
	res, err := resolution.Normalize(input)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if res == e.res {
		return res, nil
	}
	log.Printf("[INFO] resolution change %s -> %s", e.res, res)
	e.res = res
	for _, st := range e.symbols {
		st.sma = nil
		st.lastSMADate = ""
		st.lastSMARes = ""
	}
	return res, nil
}

// AnalyzeCurrentData re-evaluates every known symbol at its last seen
// price, reloading SMA state as needed. Used to refresh all signals
// synchronously after a resolution switch and by the scheduled refresh
// cycle, which also retries symbols degraded by fetch exhaustion.
func (e *Engine) AnalyzeCurrentData(ctx context.Context) []*model.Verdict {
	e.mu.Lock()
	type pending struct {
		symbol string
		price  float64
		volume float64
	}
	work := make([]pending, 0, len(e.symbols))
	for sym, st := range e.symbols {
		if st.lastPrice <= 0 {
			continue
		}
		if st.phase == Uninitialized {
			log.Printf("[INFO] retrying degraded symbol %s", sym)
		}
		work = append(work, pending{sym, st.lastPrice, st.lastVolume})
	}
	e.mu.Unlock()

	verdicts := make([]*model.Verdict, 0, len(work))
	for _, w := range work {
		v, err := e.Tick(ctx, w.symbol, w.price, w.volume)
		if err != nil {
			log.Printf("[WARN] re-analyze %s: %v", w.symbol, err)
			continue
		}
		if v != nil {
			verdicts = append(verdicts, v)
		}
	}
	return verdicts
}

// LastVerdict returns the most recent verdict for a symbol, or nil.
func (e *Engine) LastVerdict(symbol string) *model.Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.symbols[symbol]; ok {
		return st.lastVerdict
	}
	return nil
}

func (e *Engine) dateOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// dayStart truncates t to local midnight, the daily bucket key.
func dayStart(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Unix()
}
