package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/pkg/api"
)

type ModelService interface {
	List(filter api.ModelFilter) []api.Model
	Describe(id string) (api.Model, bool)
	Performance(id string) (api.PerformanceRecord, bool)
	GetModelRecommendations(c registry.Criteria, limit int) []api.Recommendation
	RefreshModels(ctx context.Context) (int, error)
}

type ModelHandler struct {
	models    ModelService
	validator *validator.Validator
}

func NewModelHandler(models ModelService, v *validator.Validator) *ModelHandler {
	return &ModelHandler{models: models, validator: v}
}

// ListModels handles GET /v1/models.
func (h *ModelHandler) ListModels(c *gin.Context) {
	var filter api.ModelFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}
	if filter.PriceMin != nil && filter.PriceMax != nil && *filter.PriceMin > *filter.PriceMax {
		_ = c.Error(api.ValidationError(map[string]string{"price_min": "must not exceed price_max"}))
		return
	}

	c.JSON(http.StatusOK, api.NewList(h.models.List(filter)))
}

// GetModel handles GET /v1/models/{id}. Ids contain a slash so the route
// uses a catch-all parameter.
func (h *ModelHandler) GetModel(c *gin.Context) {
	id, metrics := modelPath(c.Param("id"))
	if metrics {
		h.getMetrics(c, id)
		return
	}

	m, ok := h.models.Describe(id)
	if !ok {
		_ = c.Error(api.NotFoundError("Model '" + id + "' not found"))
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *ModelHandler) getMetrics(c *gin.Context, id string) {
	rec, ok := h.models.Performance(id)
	if !ok || rec.TotalRequests == 0 {
		_ = c.Error(api.NotFoundError("No performance recorded for model '" + id + "'"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// modelPath splits "/openai/gpt-4o/metrics" into the model id and whether
// the metrics sub resource was requested.
func modelPath(raw string) (string, bool) {
	id := strings.Trim(raw, "/")
	if rest, ok := strings.CutSuffix(id, "/metrics"); ok && rest != "" {
		return rest, true
	}
	return id, false
}

// Recommend handles POST /v1/models/recommend.
func (h *ModelHandler) Recommend(c *gin.Context) {
	var req api.RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	recs := h.models.GetModelRecommendations(registry.Criteria{
		Task:               req.Task,
		MaxCost:            req.MaxCost,
		MinPerformance:     req.MinPerformance,
		PreferredProviders: req.PreferredProviders,
		ExcludeProviders:   req.ExcludeProviders,
		ExcludeModels:      req.ExcludeModels,
	}, req.Limit)

	c.JSON(http.StatusOK, api.NewList(recs))
}

// Refresh handles POST /v1/models/refresh.
func (h *ModelHandler) Refresh(c *gin.Context) {
	n, err := h.models.RefreshModels(c.Request.Context())
	if err != nil {
		_ = c.Error(api.UnavailableError("Model catalog refresh failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true, "model_count": n})
}
