// Package transport binds the batch exchange between stations and the
// authority to HTTP/JSON.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Routes served by the authority.
const (
	PathBatches = "/api/v1/batches"
	PathStatus  = "/api/v1/status"
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
)

// maxBatchBytes bounds a pushed batch body.
const maxBatchBytes = 32 << 20

// Importer applies a pushed batch.
type Importer interface {
	ImportBatch(ctx context.Context, batch model.Batch) (model.Ack, error)
}

// StatusSource reports store statistics.
type StatusSource interface {
	Stats(ctx context.Context, day string) (store.Stats, error)
}

// Handler wires the authority endpoints to the importer.
type Handler struct {
	importer Importer
	status   StatusSource
	logger   *slog.Logger
}

// NewHandler constructs a Handler with its dependencies.
func NewHandler(importer Importer, status StatusSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{importer: importer, status: status, logger: logger}
}

// Register mounts the batch and status endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post(PathBatches, h.handlePushBatch)
	r.Get(PathStatus, h.handleStatus)
}

// NewRouter builds the full authority router: API, health and metrics.
func NewRouter(h *Handler, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, PathMetrics, m.Handler())
	h.Register(r)
	return r
}

func (h *Handler) handlePushBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var batch model.Batch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid batch: "+err.Error())
		return
	}

	ack, err := h.importer.ImportBatch(ctx, batch)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch import failed",
			"request_id", middleware.GetReqID(ctx),
			"batch_id", batch.ID,
			"station", batch.Station,
			"error", err,
		)
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}

	h.logger.InfoContext(ctx, "batch imported",
		"request_id", middleware.GetReqID(ctx),
		"batch_id", ack.BatchID,
		"station", batch.Station,
		"applied", ack.Applied,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Stats(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Error codes carried in error responses.
const (
	codeBadRequest  = "bad_request"
	codeRejected    = "batch_rejected"
	codeUnavailable = "store_unavailable"
	codeInternal    = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.Is(err, model.ErrInvalidRecord),
		errors.Is(err, model.ErrDimensionMismatch),
		errors.Is(err, model.ErrInvalidEmbedding),
		errors.Is(err, model.ErrConflict):
		return http.StatusUnprocessableEntity, codeRejected
	case errors.Is(err, model.ErrSyncBatchFailure):
		return http.StatusInternalServerError, codeRejected
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
