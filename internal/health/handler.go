// Package health exposes liveness and readiness probes for the signaling
// service, checking connectivity to the shared state store and the
// analytics store the way a Kubernetes probe expects.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aldernet/voicepair/internal/analytics"
	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/store"
)

// Pinger is anything that can report whether it is reachable. Both
// *store.Store and *analytics.Store satisfy this, and a nil *analytics.Store
// is a valid, always-healthy Pinger since analytics is optional.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the health check endpoints.
type Handler struct {
	sss *store.Store
	as  *analytics.Store
}

// NewHandler builds a Handler. as may be nil when analytics is disabled.
func NewHandler(sss *store.Store, as *analytics.Store) *Handler {
	return &Handler{sss: sss, as: as}
}

// LivenessResponse is the liveness probe response body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports that the process is up. It never checks dependencies.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports 200 only if every dependency this instance needs to
// serve traffic is reachable, 503 otherwise.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	sssStatus := h.check(ctx, "sss", h.sss)
	checks["sss"] = sssStatus
	if sssStatus != "healthy" {
		healthy = false
	}

	// analytics is a nil-safe, always-optional dependency: a nil *Store
	// reports healthy so readiness never depends on analytics being wired.
	asStatus := h.check(ctx, "analytics", h.as)
	checks["analytics"] = asStatus
	if asStatus != "healthy" {
		healthy = false
	}

	status := "ready"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, name string, p Pinger) string {
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
