package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// MultiStorageBackend implements interfaces.BlobStore on top of several
// backends. Reads fall back in order; writes and deletes go to every
// available backend and succeed if at least one does.
type MultiStorageBackend struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.BlobStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Get returns the blob from the first available backend that has it. If
// every reachable backend reports the key missing, ErrContentNotFound is
// returned so callers can tell "absent" from "unreachable".
func (m *MultiStorageBackend) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", string(key)))
			continue
		}

		data, err := backend.Get(ctx, key)
		if err == nil {
			m.log.Debug("Fetched blob",
				slog.String("backend_name", backend.Name()),
				slog.String("key", string(key)),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", string(key)),
			"err", err)
	}

	if notFound > 0 && len(errs) == 0 {
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All backends failed to fetch blob",
		slog.String("key", string(key)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, key, errs)
}

// Put saves data to all available backends.
func (m *MultiStorageBackend) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	return m.each(ctx, "store", key, func(backend interfaces.BlobStore) error {
		return backend.Put(ctx, key, data)
	})
}

// Delete removes key from all available backends.
func (m *MultiStorageBackend) Delete(ctx context.Context, key interfaces.BlobKey) error {
	return m.each(ctx, "delete", key, func(backend interfaces.BlobStore) error {
		return backend.Delete(ctx, key)
	})
}

func (m *MultiStorageBackend) each(ctx context.Context, op string, key interfaces.BlobKey, fn func(interfaces.BlobStore) error) error {
	start := time.Now()
	var success bool
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := fn(backend); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Backend operation failed",
				slog.String("op", op),
				slog.String("backend_name", backend.Name()),
				slog.String("key", string(key)),
				"err", err)
			continue
		}
		success = true
	}

	if !success {
		m.log.Error("All backends failed",
			slog.String("op", op),
			slog.String("key", string(key)),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: all backends failed to %s %s: %v", interfaces.ErrBackendUnavailable, op, key, errs)
	}

	return nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined location URI of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
