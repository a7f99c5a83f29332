// Package metrics provides Prometheus instrumentation for the barter service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaupa/barter-engine/internal/model"
)

var (
	// ProposalsTotal counts proposals made, partitioned by kind.
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaupa_proposals_total",
		Help: "Total number of proposals made",
	}, []string{"kind"})

	// SettlementsTotal counts fills, partitioned by kind and fill ("full" or "partial").
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaupa_settlements_total",
		Help: "Total number of proposal fills",
	}, []string{"kind", "fill"})

	// FlashLoansTotal counts flash loans by event ("issued" or "repaid").
	FlashLoansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaupa_flash_loans_total",
		Help: "Flash loans issued and repaid",
	}, []string{"event"})

	// InvocationLatency tracks engine invocations by outcome.
	InvocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kaupa_invocation_latency_seconds",
		Help:    "Engine invocation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// AbortedInvocations counts invocations rolled back, by error class.
	AbortedInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaupa_aborted_invocations_total",
		Help: "Invocations rolled back",
	}, []string{"reason"})

	// ActiveProposals tracks open proposals per engine.
	ActiveProposals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kaupa_active_proposals",
		Help: "Number of currently open proposals",
	}, []string{"engine_id"})

	// Engines tracks instantiated engines.
	Engines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaupa_engines",
		Help: "Number of instantiated engines",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaupa_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaupa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kaupa_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// RecordEvents counts the events of a committed invocation.
func RecordEvents(events []model.Event) {
	for _, ev := range events {
		switch ev.Type {
		case model.EventProposalMade:
			kind := model.Barter.String()
			if ev.Proposal != nil {
				kind = ev.Proposal.Kind.String()
			}
			ProposalsTotal.WithLabelValues(kind).Inc()
		case model.EventProposalFilled:
			SettlementsTotal.WithLabelValues(model.Barter.String(), "full").Inc()
		case model.EventProposalPartial:
			SettlementsTotal.WithLabelValues(model.Barter.String(), "partial").Inc()
		case model.EventFlashLoanIssued:
			FlashLoansTotal.WithLabelValues("issued").Inc()
			SettlementsTotal.WithLabelValues(model.FlashLoan.String(), "full").Inc()
		case model.EventFlashLoanRepaid:
			FlashLoansTotal.WithLabelValues("repaid").Inc()
		}
	}
}

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
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot hijack")
	}
	return h.Hijack()
}
