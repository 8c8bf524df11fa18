// Package metrics holds the Prometheus collectors. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/uniscrape/internal/apperr"
)

const namespace = "uniscrape"

type Metrics struct {
	gatherer prometheus.Gatherer

	sourceRequests     *prometheus.CounterVec
	sourceDuration     *prometheus.HistogramVec
	extractionFailures *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	watcherRuns        *prometheus.CounterVec
	watcherDuration    prometheus.Histogram
	priceDrops         prometheus.Counter
	emailsSent         *prometheus.CounterVec
}

// New registers collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		sourceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Requests against book sources by operation and outcome",
		}, []string{"source", "operation", "outcome"}),
		sourceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of book source operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "operation"}),
		extractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Listings that failed structured extraction",
		}, []string{"source"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_sessions_active",
			Help:      "Authenticated per-user browser pages currently open",
		}),
		watcherRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_runs_total",
			Help:      "Price watcher runs by outcome",
		}, []string{"outcome"}),
		watcherDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "watcher_run_duration_seconds",
			Help:      "Duration of one price watcher run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		priceDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_drops_total",
			Help:      "Wishlist books found cheaper than the stored price",
		}),
		emailsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Notification e-mails by outcome",
		}, []string{"outcome"}),
	}
}

// Outcome labels err by failure kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func (m *Metrics) ObserveSource(source, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.sourceRequests.WithLabelValues(source, operation, Outcome(err)).Inc()
	m.sourceDuration.WithLabelValues(source, operation).Observe(time.Since(started).Seconds())
	if apperr.Is(err, apperr.KindExtraction) {
		m.extractionFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) ObserveWatcherRun(started time.Time, drops int, err error) {
	if m == nil {
		return
	}
	m.watcherRuns.WithLabelValues(Outcome(err)).Inc()
	m.watcherDuration.Observe(time.Since(started).Seconds())
	m.priceDrops.Add(float64(drops))
}

func (m *Metrics) ObserveEmail(err error) {
	if m == nil {
		return
	}
	m.emailsSent.WithLabelValues(Outcome(err)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
