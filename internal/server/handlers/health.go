package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// HealthHandler reports process and encoder availability.
type HealthHandler struct {
	service  *streamingmodule.HlsStreamingService
	executor streamingmodule.ProcessExecutor
}

// NewHealthHandler creates the health endpoint handler.
func NewHealthHandler(service *streamingmodule.HlsStreamingService, executor streamingmodule.ProcessExecutor) *HealthHandler {
	return &HealthHandler{service: service, executor: executor}
}

// Health returns 200 when the encoder binary is usable, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	encoder := "ok"
	if !h.executor.IsHealthy() {
		status = http.StatusServiceUnavailable
		overall = "degraded"
		encoder = "unavailable"
	}

	c.JSON(status, gin.H{
		"status":            overall,
		"encoder":           encoder,
		"active_sessions":   h.service.GetActiveSessionCount(),
		"active_transcodes": h.service.ActiveTranscodeCount(),
	})
}
