package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"airguard.dev/gateway/internal/ingest"
	"airguard.dev/gateway/internal/store"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status      string    `json:"status"`
	Store       string    `json:"store"`
	Bus         string    `json:"bus,omitempty"`
	Subscribers int       `json:"subscribers"`
	Timestamp   time.Time `json:"timestamp"`
}

// handleCreateSample is the direct write path.
func (a *API) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		a.logger.Warn("failed to read request body", "error", err)
		writeError(w, http.StatusBadRequest, "unreadable_body", "request body could not be read")
		return
	}

	sample, err := a.ingester.SubmitPayload(r.Context(), ingest.SourceHTTP, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sample)

	case errors.Is(err, ingest.ErrDuplicateBatch):
		writeError(w, http.StatusConflict, "duplicate_batch", err.Error())

	case errors.Is(err, ingest.ErrInvalidSample):
		writeError(w, http.StatusBadRequest, "invalid_sample", err.Error())

	default:
		a.logger.Error("failed to submit sample", "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", "sample could not be stored")
	}
}

// handleListSamples serves one page of history, newest first.
func (a *API) handleListSamples(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", store.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	page, err := a.store.List(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("failed to list samples", "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", "samples could not be listed")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// handleGetSample returns one sample by batch id.
func (a *API) handleGetSample(w http.ResponseWriter, r *http.Request) {
	batchID := ingest.NormalizeBatchID(r.PathValue("batchId"))

	sample, err := a.store.Get(r.Context(), batchID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "sample not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to fetch sample", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", "sample could not be fetched")
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// handleHealth reports store and bus connectivity and the live subscriber
// count. Either dependency being down answers 503.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Store:       "up",
		Subscribers: a.subscribers.Count(),
		Timestamp:   time.Now().UTC(),
	}
	status := http.StatusOK

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("store ping failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "down"
		status = http.StatusServiceUnavailable
	}

	if a.bus != nil {
		resp.Bus = "up"
		if !a.bus.IsConnected() {
			a.logger.Warn("message bus disconnected")
			resp.Status = "degraded"
			resp.Bus = "down"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
