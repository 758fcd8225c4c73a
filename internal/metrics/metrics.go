// Package metrics exposes Prometheus counters for ingestion and alerting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickeralerts_ticks_applied_total", Help: "Ticker updates applied to the state store"},
		[]string{"symbol"},
	)
	TicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tickeralerts_ticks_dropped_total", Help: "Stream messages dropped as malformed or irrelevant"},
	)
	StreamConnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tickeralerts_stream_connects_total", Help: "Successful websocket subscriptions"},
	)
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickeralerts_evaluation_cycles_total", Help: "Evaluation cycles by outcome"},
		[]string{"outcome"},
	)
	AlertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickeralerts_alerts_fired_total", Help: "Alerts fired by kind"},
		[]string{"kind"},
	)
	PersistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickeralerts_persist_failures_total", Help: "Swallowed persistence failures by store"},
		[]string{"store"},
	)
	DispatchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickeralerts_dispatch_dropped_total", Help: "Background jobs dropped because the queue was full or closed"},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(TicksApplied, TicksDropped, StreamConnects, Cycles, AlertsFired, PersistFailures, DispatchDropped)
}

// Serve starts the /metrics endpoint in the background. The caller owns shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
