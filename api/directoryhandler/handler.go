package directoryhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/metrics"
	"github.com/ruteri/zk-keyservice/ratelimiter"
)

// maxBodySize bounds a request body. A record is a few hundred bytes.
const maxBodySize = 64 * 1024

// PublishRequest is the body of PUT /api/v1/keys/{user_id}.
type PublishRequest struct {
	DeviceID interfaces.DeviceID  `json:"device_id"`
	Record   interfaces.KeyRecord `json:"record"`
}

// RevokeRequest is the body of DELETE /api/v1/keys/{user_id}/generations/{generation}.
type RevokeRequest struct {
	// Proof is a signature over interfaces.RevocationDigest.
	Proof []byte `json:"proof"`
}

// Handler exposes an interfaces.Directory over HTTP. It holds no state of
// its own; the backing directory decides what is stored where.
type Handler struct {
	directory interfaces.Directory
	limiter   *ratelimiter.KeyLimiter
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *slog.Logger
}

// NewHandler creates a directory handler. limiter and metrics may be nil.
func NewHandler(directory interfaces.Directory, limiter *ratelimiter.KeyLimiter, metrics *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		limiter:   limiter,
		metrics:   metrics,
		now:       time.Now,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/api/v1/keys/{user_id}", h.HandlePublish)
	r.Get("/api/v1/keys/{user_id}", h.HandleFetch)
	r.Get("/api/v1/keys/{user_id}/generations/{generation}", h.HandleFetchGeneration)
	r.Delete("/api/v1/keys/{user_id}/generations/{generation}", h.HandleRevoke)
}

// HandlePublish stores a new key generation.
//
// URL format: PUT /api/v1/keys/{user_id}
// Request body: JSON PublishRequest
// Response: 204 on success, 403 if the record is not signed by the user's
// live key, 409 if the generation holds a different key, 429 when the user
// publishes too often.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	userID := interfaces.UserID(r.PathValue("user_id"))
	if userID == "" {
		h.fail(w, "publish", http.StatusBadRequest, "missing user id")
		return
	}

	if !h.limiter.Allow(string(userID), h.now()) {
		h.fail(w, "publish", http.StatusTooManyRequests, "too many publish requests")
		return
	}

	var req PublishRequest
	if !h.readJSON(w, r, "publish", &req) {
		return
	}

	if err := h.directory.PublishPublicKey(r.Context(), userID, req.DeviceID, req.Record); err != nil {
		h.failErr(w, "publish", err)
		return
	}

	h.log.Info("Published key",
		slog.String("userID", string(userID)),
		slog.Uint64("generation", req.Record.Generation),
		slog.String("fingerprint", req.Record.PublicKey.Fingerprint()))
	h.metrics.DirectoryRequest("publish", http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

// HandleFetch returns the highest non-revoked generation, or the highest
// revoked one if the user revoked everything.
//
// URL format: GET /api/v1/keys/{user_id}
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	userID := interfaces.UserID(r.PathValue("user_id"))
	record, err := h.directory.FetchPublicKey(r.Context(), userID)
	if err != nil {
		h.failErr(w, "fetch", err)
		return
	}
	h.writeRecord(w, "fetch", record)
}

// HandleFetchGeneration returns one generation, revoked or not.
//
// URL format: GET /api/v1/keys/{user_id}/generations/{generation}
func (h *Handler) HandleFetchGeneration(w http.ResponseWriter, r *http.Request) {
	userID := interfaces.UserID(r.PathValue("user_id"))
	generation, err := strconv.ParseUint(r.PathValue("generation"), 10, 64)
	if err != nil {
		h.fail(w, "fetch_generation", http.StatusBadRequest, "invalid generation")
		return
	}

	record, err := h.directory.FetchPublicKeyGeneration(r.Context(), userID, generation)
	if err != nil {
		h.failErr(w, "fetch_generation", err)
		return
	}
	h.writeRecord(w, "fetch_generation", record)
}

// HandleRevoke marks a generation revoked. Repeating it is a no-op.
//
// URL format: DELETE /api/v1/keys/{user_id}/generations/{generation}
// Request body: JSON RevokeRequest
// Response: 204 on success, 403 if the proof does not verify.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	userID := interfaces.UserID(r.PathValue("user_id"))
	generation, err := strconv.ParseUint(r.PathValue("generation"), 10, 64)
	if err != nil {
		h.fail(w, "revoke", http.StatusBadRequest, "invalid generation")
		return
	}

	var req RevokeRequest
	if !h.readJSON(w, r, "revoke", &req) {
		return
	}

	if err := h.directory.RevokePublicKey(r.Context(), userID, generation, req.Proof); err != nil {
		h.failErr(w, "revoke", err)
		return
	}

	h.log.Info("Revoked key", slog.String("userID", string(userID)), slog.Uint64("generation", generation))
	h.metrics.DirectoryRequest("revoke", http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		h.fail(w, op, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxBodySize {
		h.fail(w, op, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.fail(w, op, http.StatusBadRequest, fmt.Errorf("invalid %s request: %w", op, err).Error())
		return false
	}
	return true
}

func (h *Handler) writeRecord(w http.ResponseWriter, op string, record *interfaces.KeyRecord) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		return
	}
	h.metrics.DirectoryRequest(op, http.StatusOK)
}

func (h *Handler) failErr(w http.ResponseWriter, op string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("Directory request failed", "err", err, slog.String("op", op))
	}
	h.fail(w, op, code, err.Error())
}

func (h *Handler) fail(w http.ResponseWriter, op string, code int, msg string) {
	h.metrics.DirectoryRequest(op, code)
	http.Error(w, msg, code)
}

// StatusCode maps directory errors to HTTP statuses. ErrorForStatus is its
// inverse on the client side.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrGenerationExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorForStatus turns a non-success response back into a sentinel error.
// Anything a retry could fix is ErrDirectoryUnavailable.
func ErrorForStatus(code int, msg string) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", interfaces.ErrGenerationExists, msg)
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidRecord, msg)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", interfaces.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("%w: directory returned %d: %s", interfaces.ErrDirectoryUnavailable, code, msg)
	}
}
