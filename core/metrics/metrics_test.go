package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("blog.post", "list", "0", 10*time.Millisecond)
	m.ObserveRequest("blog.post", "list", "0", 20*time.Millisecond)
	m.IncMutation("blog.post", "create")
	m.IncNotificationFailure("sink")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("blog.post", "list", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("blog.post", "create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("sink")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `basebone_mutations_total{entity="blog.post",operation="create"} 1`)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("e", "o", "c", time.Second)
		m.IncMutation("e", "o")
		m.IncNotificationFailure("handler")
	})
}
