package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/internal/server/middleware"
	"github.com/nulzo/model-gateway/internal/usage"
	"github.com/nulzo/model-gateway/pkg/api"
)

type UsageService interface {
	GetUsage(ctx context.Context, callerID, day string) ([]api.UsageRecord, error)
	GetDailyReport(ctx context.Context, day string) (*api.DailyReport, bool, error)
}

type UsageHandler struct {
	ledger UsageService
	now    func() time.Time
}

func NewUsageHandler(ledger UsageService) *UsageHandler {
	return &UsageHandler{ledger: ledger, now: time.Now}
}

func parseDay(raw string) (string, bool) {
	t, err := time.Parse(usage.DayLayout, raw)
	if err != nil {
		return "", false
	}
	return t.Format(usage.DayLayout), true
}

// GetUsage handles GET /v1/usage. Callers only ever see their own records.
func (h *UsageHandler) GetUsage(c *gin.Context) {
	day := h.now().UTC().Format(usage.DayLayout)
	if raw := c.Query("date"); raw != "" {
		var ok bool
		if day, ok = parseDay(raw); !ok {
			_ = c.Error(api.ValidationError(map[string]string{"date": "must be formatted as YYYY-MM-DD"}))
			return
		}
	}

	records, err := h.ledger.GetUsage(c.Request.Context(), middleware.CallerID(c), day)
	if err != nil {
		_ = c.Error(api.UnavailableError("Failed to read usage", err))
		return
	}
	c.JSON(http.StatusOK, api.NewList(records))
}

// GetReport handles GET /v1/reports/{date}.
func (h *UsageHandler) GetReport(c *gin.Context) {
	day, ok := parseDay(c.Param("date"))
	if !ok {
		_ = c.Error(api.ValidationError(map[string]string{"date": "must be formatted as YYYY-MM-DD"}))
		return
	}

	report, found, err := h.ledger.GetDailyReport(c.Request.Context(), day)
	if err != nil {
		_ = c.Error(api.UnavailableError("Failed to read report", err))
		return
	}
	if !found {
		_ = c.Error(api.NotFoundError("No report for " + day))
		return
	}
	c.JSON(http.StatusOK, report)
}
