package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/zk-keyservice/interfaces"
)

var allStates = []interfaces.LifecycleState{
	interfaces.StateUninitialized,
	interfaces.StateMigrating,
	interfaces.StateActive,
	interfaces.StateRotating,
	interfaces.StateRevoked,
}

// Metrics groups every collector the service exports. All methods are safe
// on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	transitionSeconds *prometheus.HistogramVec
	state             *prometheus.GaugeVec
	directoryRequests *prometheus.CounterVec
	sessionCache      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Key lifecycle transitions by operation and result.",
		}, []string{"op", "result"}),
		transitionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_transition_duration_seconds",
			Help:      "Duration of key lifecycle transitions, dominated by key derivation.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the current key lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		directoryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_requests_total",
			Help:      "Directory API requests by operation and status code.",
		}, []string{"op", "code"}),
		sessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_key_cache_total",
			Help:      "Session key cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.transitionSeconds,
		m.state,
		m.directoryRequests,
		m.sessionCache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTransition records one lifecycle operation.
func (m *Metrics) ObserveTransition(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transitions.WithLabelValues(op, result).Inc()
	m.transitionSeconds.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetState(state interfaces.LifecycleState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) DirectoryRequest(op string, code int) {
	if m == nil {
		return
	}
	m.directoryRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

func (m *Metrics) SessionCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.sessionCache.WithLabelValues(result).Inc()
}

// MetricsServer serves /metrics for one Metrics instance on its own port.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

func New(namespace, addr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, errors.New("metrics namespace must not be empty")
	}
	m := NewMetrics(namespace)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))

	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
