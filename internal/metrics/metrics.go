// Package metrics exposes the lottery's Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsPurchased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_tickets_purchased_total",
			Help: "Tickets created",
		},
	)

	generationExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_ticket_generation_exhausted_total",
			Help: "Purchases that ran out of identifier attempts",
		},
	)

	confirmTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_payment_confirm_total",
			Help: "Payment confirmation results by outcome",
		},
		[]string{"outcome"},
	)

	oracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lottery_oracle_request_duration_ms",
			Help:    "Oracle verification duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		},
		[]string{"kind"},
	)

	ticketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_tickets_expired_total",
			Help: "Unpaid tickets moved to failed by the expiry sweep",
		},
	)

	httpReqTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
)

func RecordPurchase() { ticketsPurchased.Inc() }

func RecordGenerationExhausted() { generationExhausted.Inc() }

// RecordConfirm counts a confirmation result, e.g. "paid",
// "pending_awaiting_settlement", "rejected_forbidden".
func RecordConfirm(outcome string) {
	confirmTotal.WithLabelValues(outcome).Inc()
}

func RecordOracle(kind string, started time.Time) {
	oracleDuration.WithLabelValues(kind).Observe(float64(time.Since(started).Milliseconds()))
}

func RecordExpired(n int) {
	ticketsExpired.Add(float64(n))
}

// HTTPMiddleware counts requests by their chi route pattern.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpReqTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
