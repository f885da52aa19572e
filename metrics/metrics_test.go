package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	m := NewMetrics("zk_test")

	m.ObserveTransition("rotate", time.Now(), nil)
	m.ObserveTransition("rotate", time.Now(), nil)
	m.ObserveTransition("rotate", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("rotate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("rotate", "error")))
}

func TestState(t *testing.T) {
	m := NewMetrics("zk_test")

	m.SetState(interfaces.StateActive)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("revoked")))

	m.SetState(interfaces.StateRevoked)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("revoked")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("init", time.Now(), nil)
		m.SetState(interfaces.StateActive)
		m.DirectoryRequest("fetch", http.StatusOK)
		m.SessionCacheLookup(true)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsServer(t *testing.T) {
	_, err := New("", "127.0.0.1:0")
	assert.Error(t, err)

	srv, err := New("zk_test", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Metrics().DirectoryRequest("publish", http.StatusTooManyRequests)
	srv.Metrics().SessionCacheLookup(false)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `zk_test_directory_requests_total{code="429",op="publish"} 1`)
	assert.Contains(t, string(body), `zk_test_session_key_cache_total{result="miss"} 1`)
}
