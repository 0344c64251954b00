// Package server exposes the control and query HTTP surface plus the
// websocket push channel for signal subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
	"TickSentinel/internal/signal"
	"TickSentinel/internal/strategy"
)

// Server wires the engine and bus to HTTP.
type Server struct {
	engine *strategy.Engine
	bus    *signal.Bus
	http   *http.Server

	upgrader websocket.Upgrader
}

// New builds the server on the given listen address.
func New(addr string, engine *strategy.Engine, bus *signal.Bus) *Server {
	s := &Server{
		engine: engine,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/resolution", s.handleResolution)
	mux.HandleFunc("GET /api/v1/signals", s.handleSignals)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[INFO] http server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] http server: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type resolutionRequest struct {
	Resolution string `json:"resolution"`
}

type resolutionResponse struct {
	Success        bool                 `json:"success"`
	Resolution     string               `json:"resolution,omitempty"`
	Message        string               `json:"message,omitempty"`
	BullishSignals []*model.TradeSignal `json:"bullishSignals,omitempty"`
}

// handleResolution switches the engine-wide resolution. Invalid input
// fails fast with a 400; a successful switch re-analyzes every known
// symbol synchronously so the response carries the refreshed signal set.
func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, resolutionResponse{Success: false, Message: "invalid request body"})
		return
	}

	res, err := s.engine.SetResolution(req.Resolution)
	if err != nil {
		if errors.Is(err, resolution.ErrBadResolution) {
			writeJSON(w, http.StatusBadRequest, resolutionResponse{Success: false, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, resolutionResponse{Success: false, Message: err.Error()})
		return
	}

	s.engine.AnalyzeCurrentData(r.Context())
	writeJSON(w, http.StatusOK, resolutionResponse{
		Success:        true,
		Resolution:     string(res),
		BullishSignals: s.bus.Active(),
	})
}

type signalEntry struct {
	Trade *model.TradeSignal `json:"trade"`
}

type signalsResponse struct {
	Count   int           `json:"count"`
	Signals []signalEntry `json:"signals"`
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	active := s.bus.Active()
	resp := signalsResponse{Count: len(active), Signals: make([]signalEntry, 0, len(active))}
	for _, sig := range active {
		resp.Signals = append(resp.Signals, signalEntry{Trade: sig})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWS upgrades a subscriber connection, hydrates it with the current
// signal set, then streams bus events until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	snapshot, events, cancel := s.bus.Subscribe()
	defer cancel()

	for _, evt := range snapshot {
		if err := writeEvent(conn, evt); err != nil {
			return
		}
	}

	// Reader goroutine only notices the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, evt); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, evt signal.Event) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(evt)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}
