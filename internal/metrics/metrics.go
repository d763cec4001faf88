// Package metrics provides Prometheus instrumentation for the contest
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContestsTotal counts contests by terminal outcome.
	ContestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clash_contests_total",
		Help: "Total contests by outcome",
	}, []string{"outcome"})

	// ActiveContests tracks contests currently waiting or running.
	ActiveContests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clash_active_contests",
		Help: "Number of waiting or active contests",
	})

	// TradesTotal counts contest trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clash_trades_total",
		Help: "Total contest trades executed",
	}, []string{"action"})

	// LiquidationsTotal counts forced liquidations.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clash_liquidations_total",
		Help: "Positions force-liquidated on revaluation",
	})

	// BetsTotal counts spectator bets by settlement status.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clash_bets_total",
		Help: "Spectator bets by status",
	}, []string{"status"})

	// BetVolume accumulates staked SOL.
	BetVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clash_bet_volume_sol_total",
		Help: "Cumulative spectator stake in SOL",
	})

	// SettlementFailures counts settlement runs aborted by the solvency
	// check or persistence errors.
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clash_settlement_failures_total",
		Help: "Bet settlements that aborted",
	})

	// SignatureRejections counts signed trades that failed verification.
	SignatureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clash_signature_rejections_total",
		Help: "Signed trade messages rejected at verification",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clash_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clash_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clash_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
