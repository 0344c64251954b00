// Package fetch acquires historical candles from the broker API, respecting
// rate limits and look-back window caps, and backfills short responses by
// expanding the request window.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"TickSentinel/internal/metrics"
	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
	"TickSentinel/internal/store"
)

// ErrExhausted means the broker API failed on every attempt. The caller
// degrades the symbol for this cycle; the scheduler retries it later.
var ErrExhausted = errors.New("historical fetch exhausted retries")

// maxRetry is the highest retry index; attempts run retry 0..maxRetry.
const maxRetry = 3

// memoTTL bounds how long a fetched window is served from memory before the
// store/network path is consulted again.
const memoTTL = 5 * time.Minute

type memoEntry struct {
	candles []model.Candle
	expires time.Time
}

// Params identifies one fetch window.
type Params struct {
	Symbol     string
	Resolution resolution.Resolution
	From       int64
	To         int64
}

// HistoricalFetcher layers an in-memory memo over the candle store over the
// rate-limited broker call.
type HistoricalFetcher struct {
	broker  Broker
	store   store.CandleStore
	limiter *Limiter

	mu   sync.Mutex
	memo map[string]memoEntry

	// Injection points for tests; default to time.Now and a timer sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHistoricalFetcher wires the fetcher to its broker, store, and limiter.
func NewHistoricalFetcher(b Broker, cs store.CandleStore, maxPerMinute int) *HistoricalFetcher {
	return &HistoricalFetcher{
		broker:  b,
		store:   cs,
		limiter: NewLimiter(maxPerMinute),
		memo:    make(map[string]memoEntry),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetHistoricalData returns at least want candles for (symbol, res) when
// the broker can supply them, looking back lookbackDays calendar days.
// Weekly and monthly series are never fetched directly: they are rolled up
// from a daily fetch covering lookbackDays*7 or *31 days.
func (f *HistoricalFetcher) GetHistoricalData(ctx context.Context, symbol string, res resolution.Resolution, lookbackDays, want int) ([]model.Candle, error) {
	switch res {
	case resolution.Weekly:
		daily, err := f.GetHistoricalData(ctx, symbol, resolution.Daily, lookbackDays*7, want*7)
		if err != nil {
			return nil, err
		}
		return resolution.RollupWeekly(daily), nil
	case resolution.Monthly:
		daily, err := f.GetHistoricalData(ctx, symbol, resolution.Daily, lookbackDays*31, want*31)
		if err != nil {
			return nil, err
		}
		return resolution.RollupMonthly(daily), nil
	}

	if limit := res.MaxLookbackDays(); lookbackDays > limit {
		lookbackDays = limit
	}
	now := f.now()
	p := Params{
		Symbol:     symbol,
		Resolution: res,
		From:       now.AddDate(0, 0, -lookbackDays).Unix(),
		To:         now.Unix(),
	}

	if cached := f.memoGet(p); cached != nil {
		return cached, nil
	}

	// Store sufficiency check before hitting the network. A store error is
	// logged and treated as a cache miss.
	count, err := f.store.CountCandles(symbol, res, p.From, p.To)
	if err != nil {
		log.Printf("[WARN] count candles %s/%s: %v", symbol, res, err)
	} else if count >= want {
		candles, err := f.store.GetCandles(symbol, res, p.From, p.To)
		if err == nil {
			f.memoPut(p, candles)
			return candles, nil
		}
		log.Printf("[WARN] read candles %s/%s: %v", symbol, res, err)
	}

	candles, err := f.fetch(ctx, p, want, 0)
	if err != nil {
		return nil, err
	}
	if err := f.store.StoreCandles(symbol, res, candles); err != nil {
		log.Printf("[WARN] persist fetched candles %s/%s: %v", symbol, res, err)
	}
	f.memoPut(p, candles)
	return candles, nil
}

// fetch performs one rate-limited broker call, retrying failures with
// exponential backoff and expanding the window backwards when an intraday
// response comes up short. At most maxRetry+1 attempts; past that it
// returns whatever has accumulated rather than erroring upward.
func (f *HistoricalFetcher) fetch(ctx context.Context, p Params, want, retry int) ([]model.Candle, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	metrics.BrokerRequestsTotal.Inc()
	resp, err := f.broker.GetCandles(ctx, p.Symbol, p.Resolution, p.From, p.To)
	if err != nil || !resp.OK() {
		if err == nil {
			err = fmt.Errorf("broker status %q: %s", resp.Status, resp.Message)
		}
		if retry >= maxRetry {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrExhausted, p.Symbol, p.Resolution, err)
		}
		delay := f.retryBackoff(retry)
		log.Printf("[WARN] fetch %s/%s attempt %d failed (%v), retrying in %s", p.Symbol, p.Resolution, retry, err, delay)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
		return f.fetch(ctx, p, want, retry+1)
	}

	candles := resp.ToCandles()
	if len(candles) >= want || !p.Resolution.Intraday() || retry >= maxRetry {
		return candles, nil
	}

	// Short intraday response: shift the window back by span*(retry+1),
	// clamped so from never precedes now - maxLookbackDays.
	span := p.To - p.From
	newFrom := p.From - span*int64(retry+1)
	floor := f.now().AddDate(0, 0, -p.Resolution.MaxLookbackDays()).Unix()
	if newFrom < floor {
		newFrom = floor
	}
	if newFrom >= p.From {
		return candles, nil
	}

	expanded := Params{Symbol: p.Symbol, Resolution: p.Resolution, From: newFrom, To: p.From}
	more, err := f.fetch(ctx, expanded, want-len(candles), retry+1)
	if err != nil {
		// Keep what we have; exhaustion never raises past the caller here.
		log.Printf("[WARN] window expansion %s/%s gave up: %v", p.Symbol, p.Resolution, err)
		return candles, nil
	}
	return mergeCandles(candles, more), nil
}

func (f *HistoricalFetcher) retryBackoff(retry int) time.Duration {
	b := &backoff.Backoff{Min: time.Second, Max: 16 * time.Second, Factor: 2}
	return b.ForAttempt(float64(retry))
}

// mergeCandles combines two windows, deduplicating by timestamp and
// returning the union sorted ascending.
func mergeCandles(a, b []model.Candle) []model.Candle {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]model.Candle, 0, len(a)+len(b))
	for _, c := range a {
		if !seen[c.Timestamp] {
			seen[c.Timestamp] = true
			out = append(out, c)
		}
	}
	for _, c := range b {
		if !seen[c.Timestamp] {
			seen[c.Timestamp] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (f *HistoricalFetcher) memoKey(p Params) string {
	return fmt.Sprintf("%s|%s|%d|%d", p.Symbol, p.Resolution, p.From, p.To)
}

func (f *HistoricalFetcher) memoGet(p Params) []model.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.memo[f.memoKey(p)]
	if !ok || f.now().After(e.expires) {
		return nil
	}
	return e.candles
}

func (f *HistoricalFetcher) memoPut(p Params, candles []model.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memo[f.memoKey(p)] = memoEntry{candles: candles, expires: f.now().Add(memoTTL)}
}

// BatchResult carries one symbol's outcome from a bulk backfill.
type BatchResult struct {
	Symbol  string
	Candles []model.Candle
	Err     error
}

// FetchBatch hydrates many symbols with bounded parallelism: waits are
// I/O-bound so a small number of concurrent fetches keeps aggregate rate
// limits honest while still overlapping latency. Per-symbol failures are
// reported in the result, never returned as a batch error.
func (f *HistoricalFetcher) FetchBatch(ctx context.Context, symbols []string, res resolution.Resolution, lookbackDays, want, parallelism int) []BatchResult {
	if parallelism <= 0 {
		parallelism = 3
	}
	results := make([]BatchResult, len(symbols))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, sym := range symbols {
		g.Go(func() error {
			candles, err := f.GetHistoricalData(ctx, sym, res, lookbackDays, want)
			results[i] = BatchResult{Symbol: sym, Candles: candles, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
