package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/pkg/api"
)

type CachePurger interface {
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

type CacheHandler struct {
	cache CachePurger
}

func NewCacheHandler(cache CachePurger) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Clear handles DELETE /v1/cache. The optional pattern is a glob matched
// against full keys ("cache:openai/*") or, without the prefix, against the
// part after it ("openai/*").
func (h *CacheHandler) Clear(c *gin.Context) {
	pattern := strings.TrimPrefix(c.Query("pattern"), "cache:")

	n, err := h.cache.DeleteByPattern(c.Request.Context(), pattern)
	if err != nil {
		_ = c.Error(api.UnavailableError("Failed to clear cache", err))
		return
	}

	if pattern == "" {
		pattern = "*"
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n, "pattern": "cache:" + pattern})
}
