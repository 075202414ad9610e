package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/pkg/api"
)

// StatusSource exposes what GET /v1/status reports on.
type StatusSource interface {
	Len() int
	List(filter api.ModelFilter) []api.Model
}

type CacheStats interface {
	Stats() (hits, misses int64)
}

type StatusHandler struct {
	ping    func(ctx context.Context) error
	models  StatusSource
	cache   CacheStats
	version string
	started time.Time
}

func NewStatusHandler(ping func(ctx context.Context) error, models StatusSource, cache CacheStats, version string) *StatusHandler {
	return &StatusHandler{
		ping:    ping,
		models:  models,
		cache:   cache,
		version: version,
		started: time.Now(),
	}
}

// Health handles GET /health. It only reports that the process is serving.
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /v1/status.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := api.StatusResponse{
		Status:        "ok",
		Version:       h.version,
		CacheStore:    "connected",
		ModelCount:    h.models.Len(),
		HealthyModels: len(h.models.List(api.ModelFilter{HealthyOnly: true})),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	resp.CacheHits, resp.CacheMisses = h.cache.Stats()

	if err := h.ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.CacheStore = "unreachable"
	}

	c.JSON(http.StatusOK, resp)
}
