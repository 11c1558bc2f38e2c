package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harborlight/companion/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.DebugLevel, Output: io.Discard})
}

func TestNewMetricsHTTPOnly(t *testing.T) {
	m := NewMetrics(true, false, newTestLogger())
	assert.NotNil(t, m.TotalHTTPRequestsCounter)
	assert.Nil(t, m.OperationCounter)
}

func TestObserveOperation(t *testing.T) {
	m := NewMetrics(false, true, newTestLogger())

	m.ObserveOperation("card_update", StatusSuccess, 2*time.Second)
	m.ObserveOperation("card_update", StatusSuccess, time.Second)
	m.ObserveOperation("card_update", StatusSkipped, time.Second)
	m.ObserveOperation("friendship", StatusError, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OperationCounter.WithLabelValues("card_update", StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationCounter.WithLabelValues("card_update", StatusSkipped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationCounter.WithLabelValues("friendship", StatusError)))
}

func TestObserveOperationNoopWhenDisabled(t *testing.T) {
	m := NewMetrics(true, false, newTestLogger())
	// Must not panic when operation metrics are disabled
	m.ObserveOperation("card_update", StatusSuccess, time.Second)
}

func TestHTTPMiddlewareCountsResponses(t *testing.T) {
	m := NewMetrics(true, false, newTestLogger())

	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TotalHTTPRequestsCounter))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsCounters[http.StatusNotFound]))
}

func TestCardCounters(t *testing.T) {
	m := NewMetrics(false, true, newTestLogger())

	m.CardsUpdatedCounter.Inc()
	m.CardsSkippedCounter.Inc()
	m.CardsSkippedCounter.Inc()
	m.MentionsLoggedCounter.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CardsUpdatedCounter))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CardsSkippedCounter))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MentionsLoggedCounter))
}
