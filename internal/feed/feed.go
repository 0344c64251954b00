// Package feed consumes the broker's market-data websocket and forwards
// symbol-feed ticks to the strategy engine.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"TickSentinel/internal/metrics"
	"TickSentinel/internal/model"
)

// TickHandler receives each accepted tick.
type TickHandler func(ctx context.Context, tick model.Tick)

// Feed maintains one websocket connection to the market-data endpoint,
// resubscribing after every reconnect. Messages with type other than "sf"
// are ignored at this boundary.
type Feed struct {
	URL     string
	APIKey  string
	Symbols []string
	Handler TickHandler
}

// New creates a feed for the given symbols.
func New(url, apiKey string, symbols []string, handler TickHandler) *Feed {
	return &Feed{URL: url, APIKey: apiKey, Symbols: symbols, Handler: handler}
}

// wsMessage is the inbound tick shape. Only type=="sf" updates carry
// price data for the strategy.
type wsMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Open   float64 `json:"open_price"`
	High   float64 `json:"high_price"`
	Low    float64 `json:"low_price"`
	Volume float64 `json:"volume"`
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
	Token   string   `json:"token,omitempty"`
}

// dispatcher hands each tick to a per-symbol worker, so a symbol stuck in
// hydration never blocks the read loop or the other symbols. Each symbol's
// mailbox holds only the freshest pending tick; a superseded price is
// dropped, not queued.
type dispatcher struct {
	ctx     context.Context
	handler TickHandler

	mu    sync.Mutex
	boxes map[string]chan model.Tick
}

func newDispatcher(ctx context.Context, handler TickHandler) *dispatcher {
	return &dispatcher{ctx: ctx, handler: handler, boxes: make(map[string]chan model.Tick)}
}

func (d *dispatcher) offer(tick model.Tick) {
	d.mu.Lock()
	box, ok := d.boxes[tick.Symbol]
	if !ok {
		box = make(chan model.Tick, 1)
		d.boxes[tick.Symbol] = box
		go d.worker(box)
	}
	d.mu.Unlock()

	for {
		select {
		case box <- tick:
			return
		default:
		}
		select {
		case <-box:
			// Stale pending tick, superseded by this one.
		default:
		}
	}
}

func (d *dispatcher) worker(box chan model.Tick) {
	for {
		select {
		case <-d.ctx.Done():
			return
		case tick := <-box:
			d.handler(d.ctx, tick)
		}
	}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff on any transport error. Workers outlive reconnects:
// the dispatcher is bound to ctx, not to one connection.
func (f *Feed) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	d := newDispatcher(ctx, f.Handler)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consume(ctx, d); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			log.Printf("[WARN] market feed disconnected (%v), reconnecting in %s", err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		b.Reset()
	}
}

func (f *Feed) consume(ctx context.Context, d *dispatcher) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[INFO] market feed connected: %d symbols", len(f.Symbols))

	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: f.Symbols, Token: f.APIKey}); err != nil {
		return err
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[WARN] decode feed message: %v", err)
			continue
		}
		if msg.Type != "sf" || msg.Symbol == "" {
			continue
		}

		metrics.TicksTotal.WithLabelValues(msg.Symbol).Inc()
		d.offer(model.Tick{
			Symbol: msg.Symbol,
			LTP:    msg.LTP,
			Open:   msg.Open,
			High:   msg.High,
			Low:    msg.Low,
			Volume: msg.Volume,
		})
	}
}
