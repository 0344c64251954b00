// Package signal fans strategy verdict transitions out to subscribers.
// Emission is edge-triggered: a symbol produces one signal-open when it
// turns bullish and one signal-clear when it turns back, never a stream of
// duplicates while the verdict holds.
package signal

import (
	"log"
	"strings"
	"sync"
	"time"

	"TickSentinel/internal/metrics"
	"TickSentinel/internal/model"
)

// EventType discriminates bus events.
type EventType string

const (
	EventOpen  EventType = "signal-open"
	EventClear EventType = "signal-clear"
)

// Event is one emission on the bus. Signal is set for open events only.
type Event struct {
	Type   EventType          `json:"type"`
	Symbol string             `json:"symbol"`
	Signal *model.TradeSignal `json:"signal,omitempty"`
}

// Bus tracks the previous verdict per symbol and notifies subscribers on
// bullish-edge and bearish-edge transitions.
type Bus struct {
	mu     sync.Mutex
	last   map[string]*model.Verdict
	active map[string]*model.TradeSignal
	subs   map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		last:   make(map[string]*model.Verdict),
		active: make(map[string]*model.TradeSignal),
		subs:   make(map[chan Event]struct{}),
	}
}

// Publish diffs a fresh verdict against the symbol's previous one and emits
// on transition. Unchanged verdicts produce nothing.
func (b *Bus) Publish(v *model.Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.last[v.Symbol]
	b.last[v.Symbol] = v

	wasBullish := prev != nil && prev.Bullish
	switch {
	case v.Bullish && !wasBullish:
		sig := buildSignal(v)
		b.active[v.Symbol] = sig
		log.Printf("[INFO] signal open: %s entry=%.2f stop=%.2f target=%.2f", v.Symbol, sig.EntryPrice, sig.StopLoss, sig.Target)
		b.broadcast(Event{Type: EventOpen, Symbol: v.Symbol, Signal: sig})
	case !v.Bullish && wasBullish:
		delete(b.active, v.Symbol)
		log.Printf("[INFO] signal clear: %s", v.Symbol)
		b.broadcast(Event{Type: EventClear, Symbol: v.Symbol})
	}
}

// buildSignal derives the actionable payload: fixed percentage bands off
// the entry close, not ATR-derived.
func buildSignal(v *model.Verdict) *model.TradeSignal {
	now := time.Unix(v.Timestamp, 0)
	change := v.Close - v.Open
	changePct := 0.0
	if v.Open != 0 {
		changePct = change / v.Open * 100
	}
	return &model.TradeSignal{
		Symbol:           v.Symbol,
		Exchange:         exchangeOf(v.Symbol),
		Type:             "BUY",
		Price:            v.Close,
		Change:           change,
		ChangePercentage: changePct,
		EntryPrice:       v.Close,
		StopLoss:         v.Close * 0.95,
		Target:           v.Close * 1.10,
		EntryTime:        now.Format("15:04:05"),
		EntryDate:        now.Format("2006-01-02"),
		IsProfit:         change > 0,
	}
}

// exchangeOf extracts the exchange prefix from symbols like "NSE:SBIN-EQ".
func exchangeOf(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i > 0 {
		return symbol[:i]
	}
	return ""
}

// Subscribe registers a subscriber and returns the current signal set for
// initial-state hydration plus the event channel and an unsubscribe func.
// Slow subscribers drop events rather than blocking publishers.
func (b *Bus) Subscribe() ([]Event, <-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]Event, 0, len(b.active))
	for sym, sig := range b.active {
		snapshot = append(snapshot, Event{Type: EventOpen, Symbol: sym, Signal: sig})
	}

	ch := make(chan Event, 64)
	b.subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return snapshot, ch, cancel
}

// Active returns the current open signals.
func (b *Bus) Active() []*model.TradeSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.TradeSignal, 0, len(b.active))
	for _, sig := range b.active {
		out = append(out, sig)
	}
	return out
}

func (b *Bus) broadcast(evt Event) {
	metrics.SignalsTotal.WithLabelValues(string(evt.Type)).Inc()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			log.Printf("[WARN] dropping %s event for slow subscriber", evt.Type)
		}
	}
}
