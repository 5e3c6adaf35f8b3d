package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"storefront-service/internal/checkout"
)

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg)

	m.ObserveRequest("/ping", 200, 3*time.Millisecond)
	m.ObserveRequest("/ping", 200, 4*time.Millisecond)
	m.ObserveUpstream("commerce", 502)
	m.Observe(context.Background(), checkout.Event{Type: checkout.EventPaymentSucceeded})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Upstream.WithLabelValues("commerce", "502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckoutEvents.WithLabelValues("payment.succeeded")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http_requests_total")
}
