// Package metrics provides Prometheus instrumentation for the Santa services:
// draw outcomes and latency, notification deliveries, API traffic and live
// feed connections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DrawsTotal counts processed draw requests, labeled by result status
	// ("complete", "incomplete", "busy", "rejected") and by the matcher tier
	// that produced the pairs ("none" when the matcher did not run).
	DrawsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_draws_total",
		Help: "Total number of draw requests processed",
	}, []string{"status", "tier"})

	// DrawDuration records the matcher's run time in seconds.
	DrawDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "santa_draw_duration_seconds",
		Help:    "Time spent drawing assignments",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// DrawParticipants records event sizes at draw time.
	DrawParticipants = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "santa_draw_participants",
		Help:    "Number of participants per draw",
		Buckets: []float64{2, 5, 10, 20, 50, 100, 250, 1000},
	})

	// NotificationsTotal counts notification deliveries by channel and
	// result ("sent", "failed", "skipped").
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_notifications_total",
		Help: "Total number of notifications handled",
	}, []string{"channel", "result"})

	// HTTPRequestsTotal counts API requests by route pattern and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "santa_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"route", "code"})

	// LiveConnections tracks open organizer live feed sockets.
	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "santa_live_connections",
		Help: "Current number of live feed WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		DrawsTotal,
		DrawDuration,
		DrawParticipants,
		NotificationsTotal,
		HTTPRequestsTotal,
		LiveConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
