package signal

import (
	"testing"

	"TickSentinel/internal/model"
)

func verdict(symbol string, bullish bool, close float64) *model.Verdict {
	return &model.Verdict{Symbol: symbol, Bullish: bullish, Close: close, Open: close - 1, Timestamp: 1718000000}
}

func TestPublish_EdgeTriggered(t *testing.T) {
	bus := NewBus()
	_, events, cancel := bus.Subscribe()
	defer cancel()

	// false, false, true, true, false: one open at the rising edge, one
	// clear at the falling edge, nothing else.
	for _, bullish := range []bool{false, false, true, true, false} {
		bus.Publish(verdict("NSE:SBIN-EQ", bullish, 800))
	}

	var got []Event
	for len(events) > 0 {
		got = append(got, <-events)
	}
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != EventOpen || got[0].Symbol != "NSE:SBIN-EQ" {
		t.Errorf("first event = %+v, want signal-open", got[0])
	}
	if got[1].Type != EventClear {
		t.Errorf("second event = %+v, want signal-clear", got[1])
	}
	if got[1].Signal != nil {
		t.Error("signal-clear must carry only the symbol key")
	}
}

func TestPublish_FirstVerdictBullishOpens(t *testing.T) {
	bus := NewBus()
	_, events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(verdict("NSE:TCS-EQ", true, 4000))
	if len(events) != 1 {
		t.Fatalf("absent -> true should emit one open, got %d events", len(events))
	}
	evt := <-events
	sig := evt.Signal
	if sig == nil {
		t.Fatal("open event missing signal payload")
	}
	if sig.EntryPrice != 4000 {
		t.Errorf("entry = %.2f, want close 4000", sig.EntryPrice)
	}
	if sig.StopLoss != 4000*0.95 {
		t.Errorf("stop = %.2f, want 5%% band %.2f", sig.StopLoss, 4000*0.95)
	}
	if sig.Target != 4000*1.10 {
		t.Errorf("target = %.2f, want 10%% band %.2f", sig.Target, 4000*1.10)
	}
	if sig.Type != "BUY" {
		t.Errorf("type = %q, want BUY", sig.Type)
	}
	if sig.Exchange != "NSE" {
		t.Errorf("exchange = %q, want NSE", sig.Exchange)
	}
}

func TestSubscribe_InitialHydration(t *testing.T) {
	bus := NewBus()
	bus.Publish(verdict("NSE:SBIN-EQ", true, 800))
	bus.Publish(verdict("NSE:INFY-EQ", false, 1500))

	snapshot, _, cancel := bus.Subscribe()
	defer cancel()

	if len(snapshot) != 1 {
		t.Fatalf("expected 1 active signal in hydration snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Symbol != "NSE:SBIN-EQ" || snapshot[0].Type != EventOpen {
		t.Errorf("unexpected snapshot event: %+v", snapshot[0])
	}
}

func TestActive_TracksOpenAndClear(t *testing.T) {
	bus := NewBus()
	bus.Publish(verdict("NSE:SBIN-EQ", true, 800))
	if len(bus.Active()) != 1 {
		t.Fatal("expected 1 active signal")
	}
	bus.Publish(verdict("NSE:SBIN-EQ", false, 790))
	if len(bus.Active()) != 0 {
		t.Fatal("expected no active signals after clear")
	}
}

func TestCancel_Unsubscribes(t *testing.T) {
	bus := NewBus()
	_, events, cancel := bus.Subscribe()
	cancel()
	// Double cancel must not panic.
	cancel()

	bus.Publish(verdict("NSE:SBIN-EQ", true, 800))
	if _, ok := <-events; ok {
		t.Error("expected closed channel after cancel")
	}
}
