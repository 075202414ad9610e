package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord is the per caller, per model, per day counter set.
type UsageRecord struct {
	CallerID string          `json:"caller_id"`
	ModelID  string          `json:"model_id"`
	Date     string          `json:"date"`
	Requests int64           `json:"requests"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// ModelUsage is one row of a daily report breakdown.
type ModelUsage struct {
	ModelID  string          `json:"model_id"`
	Requests int64           `json:"requests"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// DailyReport is a read-only snapshot of one UTC day of global usage.
type DailyReport struct {
	Date          string          `json:"date"`
	Requests      int64           `json:"requests"`
	Tokens        int64           `json:"tokens"`
	Cost          decimal.Decimal `json:"cost"`
	UniqueCallers int64           `json:"unique_callers"`
	Models        []ModelUsage    `json:"models"`
	GeneratedAt   time.Time       `json:"generated_at"`
}
