// Package handler provides HTTP request handlers for the propstream server.
package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/service"
)

// PropertyHandler handles property write and staleness probe requests.
type PropertyHandler struct {
	writes       *service.WriteService
	lag          *service.LagTracker
	errorHandler *apperrors.Handler
	logger       *zap.Logger
}

// NewPropertyHandler creates a new property handler.
func NewPropertyHandler(
	writes *service.WriteService,
	lag *service.LagTracker,
	errorHandler *apperrors.Handler,
	logger *zap.Logger,
) *PropertyHandler {
	return &PropertyHandler{
		writes:       writes,
		lag:          lag,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// updatePriceRequest is the PUT body. Pointers distinguish a missing field
// from a zero value.
type updatePriceRequest struct {
	Price   *float64 `json:"price"`
	Version *int64   `json:"version"`
}

type lagResponse struct {
	LagSeconds float64 `json:"lag_seconds"`
}

// UpdateProperty handles PUT /{region}/properties/{id} requests. The
// X-Request-ID header carries the caller's idempotency token and is required.
func (h *PropertyHandler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		h.errorHandler.WriteValidationError(w, "missing X-Request-ID header", requestID)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, "invalid property id", requestID)
		return
	}

	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}

	if req.Price == nil || req.Version == nil {
		h.errorHandler.WriteValidationError(w, "missing price or version in body", requestID)
		return
	}

	property, err := h.writes.UpdatePrice(r.Context(), id, requestID, *req.Version, *req.Price)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, property)
}

// GetProperty handles GET /{region}/properties/{id} requests.
func (h *PropertyHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, "invalid property id", requestID)
		return
	}

	property, err := h.writes.GetProperty(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, property)
}

// ReplicationLag handles GET /{region}/replication-lag requests.
func (h *PropertyHandler) ReplicationLag(w http.ResponseWriter, r *http.Request) {
	lag := math.Round(h.lag.LagSeconds()*100) / 100
	h.writeJSONResponse(w, http.StatusOK, lagResponse{LagSeconds: lag})
}

// Health handles GET /{region}/health requests.
func (h *PropertyHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *PropertyHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
