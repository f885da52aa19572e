package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HTTPServerConfig configures api/server.Server. The directory server is the
// only binary that serves HTTP; keyctl is a client.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr serves Prometheus metrics on its own listener so the
	// directory API port never exposes them. Empty disables it.
	MetricsAddr string

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain waits before logging that the
	// drain is complete. /readyz reports 503 from the first /drain call.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds Shutdown for each listener.
	GracefulShutdownDuration time.Duration

	// ReadHeaderTimeout cuts off clients that trickle headers. Bodies are
	// capped in size by the directory handler and in time by ReadTimeout.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultHTTPServerConfig is what the directory server runs with unless a
// flag overrides it. Publish and revoke bodies are a few hundred bytes, so
// the read timeouts are short.
func DefaultHTTPServerConfig(listenAddr string, log *slog.Logger) *HTTPServerConfig {
	return &HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      log,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadHeaderTimeout:        5 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
		IdleTimeout:              2 * time.Minute,
	}
}

// Validate rejects a config the server cannot run. Zero durations mean no
// timeout, as in net/http.
func (c *HTTPServerConfig) Validate() error {
	if c.Log == nil {
		return errors.New("server config: logger is required")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.ListenAddr {
		return fmt.Errorf("server config: metrics and API both on %s", c.ListenAddr)
	}
	for name, d := range map[string]time.Duration{
		"drain":             c.DrainDuration,
		"graceful shutdown": c.GracefulShutdownDuration,
		"read header":       c.ReadHeaderTimeout,
		"read":              c.ReadTimeout,
		"write":             c.WriteTimeout,
		"idle":              c.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("server config: negative %s duration %s", name, d)
		}
	}
	return nil
}
