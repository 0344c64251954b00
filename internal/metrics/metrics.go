package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Market ticks ingested"},
		[]string{"symbol"},
	)
	BrokerRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "broker_requests_total", Help: "Historical-data broker calls"},
	)
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_failures_total", Help: "Symbols degraded by fetch exhaustion"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signal events emitted"},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, BrokerRequestsTotal, FetchFailuresTotal, SignalsTotal)
}

// Serve exposes /metrics on its own listener and returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
