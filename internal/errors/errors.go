// Package errors defines the write-path error taxonomy and its HTTP mapping.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Sentinel errors returned by the store and surfaced by the write path.
var (
	// ErrDuplicateRequest indicates the idempotency key was already recorded.
	// This is a protocol signal, not an operational error: the caller already
	// received this write's effect or is retrying after a lost response.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrPropertyNotFound indicates the property id is unknown to this region.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrPublishFailure indicates the replication log rejected a message.
	ErrPublishFailure = errors.New("replication log publish failed")
)

// VersionConflictError indicates the caller's expected version did not match
// the stored version. It carries the current version so the caller can re-read
// and retry.
type VersionConflictError struct {
	CurrentVersion int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

// AsVersionConflict unwraps err into a VersionConflictError if possible.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorCodeDuplicateRequest ErrorCode = "DUPLICATE_REQUEST"
	ErrorCodeNotFound         ErrorCode = "PROPERTY_NOT_FOUND"
	ErrorCodeVersionConflict  ErrorCode = "VERSION_CONFLICT"
	ErrorCodePublishFailure   ErrorCode = "PUBLISH_FAILURE"
	ErrorCodeStoreFailure     ErrorCode = "STORE_FAILURE"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status         string    `json:"status"`
	ErrorCode      ErrorCode `json:"error_code"`
	Message        string    `json:"message"`
	RequestID      string    `json:"request_id,omitempty"`
	CurrentVersion *int64    `json:"current_version,omitempty"`
}

// Handler writes error responses in the standard envelope.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError maps a write-path error to its HTTP response. Every write either
// fully succeeds or is reported with a specific reason; there is no partial
// success on the synchronous path.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	switch {
	case errors.Is(err, ErrDuplicateRequest):
		h.WriteErrorResponse(w, http.StatusUnprocessableEntity, ErrorCodeDuplicateRequest,
			"a request with this X-Request-ID has already been processed", requestID)
	case errors.Is(err, ErrPropertyNotFound):
		h.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeNotFound,
			"property not found", requestID)
	case errors.Is(err, ErrPublishFailure):
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodePublishFailure,
			err.Error(), requestID)
	default:
		if vc, ok := AsVersionConflict(err); ok {
			h.writeConflict(w, vc, requestID)
			return
		}
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeStoreFailure,
			"internal server error", requestID)
	}
}

func (h *Handler) writeConflict(w http.ResponseWriter, vc *VersionConflictError, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", http.StatusConflict),
		zap.String("error_code", string(ErrorCodeVersionConflict)),
		zap.Int64("current_version", vc.CurrentVersion),
		zap.String("request_id", requestID),
	)

	current := vc.CurrentVersion
	resp := ErrorResponse{
		Status:         "error",
		ErrorCode:      ErrorCodeVersionConflict,
		Message:        "version mismatch: the record has been modified by another transaction",
		RequestID:      requestID,
		CurrentVersion: &current,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(resp)
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}
