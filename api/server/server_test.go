package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/zk-keyservice/api"
	"github.com/ruteri/zk-keyservice/api/directoryhandler"
	"github.com/ruteri/zk-keyservice/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type pingHandler struct{}

func (pingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, string(body)
}

func TestHealthAndDrain(t *testing.T) {
	srv, err := New(&api.HTTPServerConfig{ListenAddr: "127.0.0.1:0", Log: testLogger}, pingHandler{}, nil)
	require.NoError(t, err)
	router := srv.Router()

	code, body := get(t, router, "/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body)

	code, body = get(t, router, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = get(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = get(t, router, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get(t, router, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	code, body = get(t, router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"not ready"}`, body)

	// Draining only affects the readiness check.
	code, _ = get(t, router, "/ping")
	assert.Equal(t, http.StatusOK, code)

	_, body = get(t, router, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	_, body = get(t, router, "/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, body)

	code, _ = get(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestPprofIsOptIn(t *testing.T) {
	handler := directoryhandler.NewHandler(directory.NewMemory(nil, testLogger), nil, nil, testLogger)

	srv, err := New(&api.HTTPServerConfig{Log: testLogger}, handler, nil)
	require.NoError(t, err)
	code, _ := get(t, srv.Router(), "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code)

	srv, err = New(&api.HTTPServerConfig{Log: testLogger, EnablePprof: true}, handler, nil)
	require.NoError(t, err)
	code, _ = get(t, srv.Router(), "/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.Router(), "/api/v1/keys/nobody")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNewRequiresMetricsServer(t *testing.T) {
	_, err := New(&api.HTTPServerConfig{Log: testLogger, MetricsAddr: "127.0.0.1:0"}, pingHandler{}, nil)
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := api.DefaultHTTPServerConfig("127.0.0.1:8080", testLogger)
	srv, err := New(cfg, pingHandler{}, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.ReadHeaderTimeout, srv.srv.ReadHeaderTimeout)
	assert.Equal(t, cfg.IdleTimeout, srv.srv.IdleTimeout)

	tests := map[string]func(c *api.HTTPServerConfig){
		"no logger":        func(c *api.HTTPServerConfig) { c.Log = nil },
		"shared listener":  func(c *api.HTTPServerConfig) { c.MetricsAddr = c.ListenAddr },
		"negative timeout": func(c *api.HTTPServerConfig) { c.ReadTimeout = -time.Second },
		"negative drain":   func(c *api.HTTPServerConfig) { c.DrainDuration = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := api.DefaultHTTPServerConfig("127.0.0.1:8080", testLogger)
			mutate(cfg)
			_, err := New(cfg, pingHandler{}, nil)
			assert.Error(t, err)
		})
	}
}
