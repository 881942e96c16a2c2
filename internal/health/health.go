package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/store"
)

// LogConn reports connectivity to the replication log.
type LogConn interface {
	IsConnected() bool
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	propertyStore  store.PropertyStore
	replicationLog LogConn
	logger         *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(propertyStore store.PropertyStore, replicationLog LogConn, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		propertyStore:  propertyStore,
		replicationLog: replicationLog,
		logger:         logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check property store (PostgreSQL)
	if err := h.checkStore(ctx); err != nil {
		h.logger.Error("Property store health check failed", zap.Error(err))
		checks["property_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["property_store"] = "healthy"
	}

	// Check replication log connectivity
	if h.replicationLog != nil && !h.replicationLog.IsConnected() {
		checks["replication_log"] = "unhealthy: not connected"
		allHealthy = false
	} else {
		checks["replication_log"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkStore(ctx context.Context) error {
	if h.propertyStore == nil {
		return nil // Skip if not initialized
	}
	return h.propertyStore.Ping(ctx)
}
