package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/bus"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"go.uber.org/zap"
)

// RegistryChecker reports on the Room Registry's ability to serve traffic:
// whether the world pack loaded successfully and how many rooms are live.
type RegistryChecker interface {
	Check(ctx context.Context) (status string, roomCount int)
}

// Handler manages health check endpoints.
type Handler struct {
	store    *bus.Store
	registry RegistryChecker
}

// NewHandler creates a new health check handler. store may be nil when
// running without the optional Redis-backed store (single-instance mode).
func NewHandler(store *bus.Store, registry RegistryChecker) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["store"] = storeStatus
	if storeStatus != "healthy" {
		allHealthy = false
	}

	registryStatus := h.checkRegistry(ctx)
	checks["registry"] = registryStatus
	if registryStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkStore verifies the optional Redis-backed store, if one is configured.
// In single-instance (no Redis) mode this is always healthy.
func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "store health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkRegistry verifies the Room Registry has a world pack loaded and is
// able to report its live room count.
func (h *Handler) checkRegistry(ctx context.Context) string {
	if h.registry == nil {
		return "unhealthy"
	}
	status, _ := h.registry.Check(ctx)
	return status
}

// HealthCheckResponse is a generic health check response for backward compatibility.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
