package api

import "time"

// ModelDescriptor identifies a queryable upstream model and its capabilities.
type ModelDescriptor struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	UpstreamID    string  `json:"upstream_id"`
	ContextLength int     `json:"context_length"`
	Pricing       Pricing `json:"pricing"`
}

// Pricing is expressed in USD per one million tokens.
type Pricing struct {
	Prompt     float64 `json:"prompt" mapstructure:"prompt"`
	Completion float64 `json:"completion" mapstructure:"completion"`
}

// Blended is the mean of prompt and completion price.
func (p Pricing) Blended() float64 {
	return (p.Prompt + p.Completion) / 2
}

type HealthState string

const (
	Healthy   HealthState = "healthy"
	Unhealthy HealthState = "unhealthy"
)

// PerformanceRecord holds rolling statistics for one model.
type PerformanceRecord struct {
	ModelID       string    `json:"model_id"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	SuccessRate   float64   `json:"success_rate"`
	TotalRequests int64     `json:"total_requests"`
	WindowSize    int       `json:"window_size"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Model is a descriptor annotated with performance and health, as served by /models.
type Model struct {
	ModelDescriptor
	Object      string             `json:"object"`
	Health      HealthState        `json:"health"`
	Performance *PerformanceRecord `json:"performance,omitempty"`
}

// ModelFilter narrows GET /models.
type ModelFilter struct {
	Provider    string   `form:"provider"`
	PriceMin    *float64 `form:"price_min" binding:"omitempty,min=0"`
	PriceMax    *float64 `form:"price_max" binding:"omitempty,min=0"`
	ContextMin  int      `form:"context_min" binding:"omitempty,min=0"`
	HealthyOnly bool     `form:"healthy_only"`
}

// Recommendation is one ranked entry of POST /models/recommend.
type Recommendation struct {
	Model
	Score float64 `json:"score"`
}
