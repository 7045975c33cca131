// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/hearth/internal/auth"
	"github.com/af-corp/hearth/internal/backend"
	"github.com/af-corp/hearth/internal/breaker"
	"github.com/af-corp/hearth/internal/httputil"
	"github.com/af-corp/hearth/internal/pipeline"
	"github.com/af-corp/hearth/internal/types"
)

const (
	maxBodyBytes  = 64 << 10
	healthTimeout = 3 * time.Second
)

// Submitter runs one query to completion.
type Submitter interface {
	Submit(ctx context.Context, q types.Query) types.Response
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	pipeline Submitter
	backends *backend.Registry
	breakers *breaker.Registry
	version  string
	logger   *slog.Logger
}

func NewHandler(p Submitter, backends *backend.Registry, breakers *breaker.Registry, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline: p,
		backends: backends,
		breakers: breakers,
		version:  version,
		logger:   logger,
	}
}

// Query handles POST /v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	q, ok := h.decodeQuery(w, r, reqID)
	if !ok {
		return
	}

	resp := h.pipeline.Submit(pipeline.ContextWithRequestID(r.Context(), reqID), q)
	w.Header().Set("X-Request-ID", resp.RequestID)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// decodeQuery parses and validates the body and enforces the key's mode
// ceiling. It writes the error response itself and reports whether to go on.
func (h *Handler) decodeQuery(w http.ResponseWriter, r *http.Request, reqID string) (types.Query, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return types.Query{}, false
	}
	defer r.Body.Close()

	var q types.Query
	if err := json.Unmarshal(body, &q); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return types.Query{}, false
	}
	if err := q.Validate(); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return types.Query{}, false
	}

	if info, ok := auth.AuthFromContext(r.Context()); ok && !info.Allows(q.Mode) {
		h.logger.Warn("query mode exceeds key ceiling",
			"request_id", reqID,
			"key_id", info.KeyID,
			"mode", q.Mode,
			"max_mode", info.MaxMode,
		)
		httputil.WriteForbiddenError(w, reqID, "API key may not submit "+string(q.Mode)+" queries")
		return types.Query{}, false
	}
	return q, true
}

type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Backends map[string]bool `json:"backends"`
}

// Health handles GET /health. Backends are probed in parallel; the process
// is "degraded" when any of them is down.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Version: h.version, Backends: map[string]bool{}}
	if h.backends != nil {
		resp.Backends = h.backends.Health(ctx)
	}
	for _, up := range resp.Backends {
		if !up {
			resp.Status = "degraded"
			break
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Breakers handles GET /v1/breakers.
func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	var statuses []breaker.Status
	if h.breakers != nil {
		statuses = h.breakers.Snapshot()
	}
	if statuses == nil {
		statuses = []breaker.Status{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"breakers": statuses})
}
