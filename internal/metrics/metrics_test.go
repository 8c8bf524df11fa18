package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/maltedev/uniscrape/internal/apperr"
)

func TestObserveSource(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSource("depository", "search", time.Now(), nil)
	m.ObserveSource("depository", "search", time.Now(), apperr.New(apperr.KindExtraction, "extractor", "missing isbn"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceRequests.WithLabelValues("depository", "search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceRequests.WithLabelValues("depository", "search", "extraction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extractionFailures.WithLabelValues("depository")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSource("ebay", "search", time.Now(), errors.New("boom"))
		m.SetActiveSessions(3)
		m.ObserveWatcherRun(time.Now(), 2, nil)
		m.ObserveEmail(nil)
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetActiveSessions(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uniscrape_browser_sessions_active 2")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "timeout", Outcome(apperr.New(apperr.KindTimeout, "fetch", "slow")))
}
