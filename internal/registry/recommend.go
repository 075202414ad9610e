package registry

import (
	"sort"

	"github.com/nulzo/model-gateway/pkg/api"
)

const (
	DefaultRecommendations = 5
	MaxRecommendations     = 50

	// longContextMin is the smallest context window considered for long_context tasks.
	longContextMin = 100_000
)

// Criteria narrows and weights model recommendations.
type Criteria struct {
	Task               string
	MaxCost            *float64 // blended USD per 1M tokens
	MinPerformance     *float64 // minimum windowed success rate
	PreferredProviders []string // allow list, empty means any
	ExcludeProviders   []string
	ExcludeModels      []string
}

type weights struct {
	cost, latency, success float64
}

var taskWeights = map[string]weights{
	"chat":         {cost: 0.3, latency: 0.3, success: 0.4},
	"code":         {cost: 0.2, latency: 0.2, success: 0.6},
	"reasoning":    {cost: 0.1, latency: 0.1, success: 0.8},
	"fast":         {cost: 0.1, latency: 0.7, success: 0.2},
	"cheap":        {cost: 0.7, latency: 0.1, success: 0.2},
	"long_context": {cost: 0.3, latency: 0.2, success: 0.5},
}

// Tasks lists the accepted task categories.
func Tasks() []string {
	out := make([]string, 0, len(taskWeights))
	for t := range taskWeights {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// GetModelRecommendations ranks healthy models by a weighted blend of low
// cost, low latency and high success rate. Ties resolve by id.
func (r *Registry) GetModelRecommendations(c Criteria, limit int) []api.Recommendation {
	if limit <= 0 {
		limit = DefaultRecommendations
	}
	if limit > MaxRecommendations {
		limit = MaxRecommendations
	}
	w, ok := taskWeights[c.Task]
	if !ok {
		w = taskWeights["chat"]
	}

	preferred := toSet(c.PreferredProviders)
	excludedProviders := toSet(c.ExcludeProviders)
	excludedModels := toSet(c.ExcludeModels)

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		model   api.Model
		cost    float64
		latency float64
		hasData bool
		success float64
	}
	var pool []scored

	for id, d := range r.models {
		if _, skip := excludedModels[id]; skip {
			continue
		}
		if _, skip := excludedProviders[d.Provider]; skip {
			continue
		}
		if len(preferred) > 0 {
			if _, ok := preferred[d.Provider]; !ok {
				continue
			}
		}
		if c.Task == "long_context" && d.ContextLength < longContextMin {
			continue
		}
		if c.MaxCost != nil && d.Pricing.Blended() > *c.MaxCost {
			continue
		}
		if !r.healthyLocked(id) {
			continue
		}

		rec := r.recordLocked(id)
		s := scored{
			model:   r.modelLocked(d),
			cost:    d.Pricing.Blended(),
			latency: rec.AvgLatencyMs,
			hasData: rec.WindowSize > 0,
			success: 1,
		}
		if s.hasData {
			s.success = rec.SuccessRate
		}
		if c.MinPerformance != nil && s.success < *c.MinPerformance {
			continue
		}
		pool = append(pool, s)
	}

	if len(pool) == 0 {
		return []api.Recommendation{}
	}

	minCost, maxCost := pool[0].cost, pool[0].cost
	minLat, maxLat := -1.0, -1.0
	for _, s := range pool {
		minCost = min(minCost, s.cost)
		maxCost = max(maxCost, s.cost)
		if s.hasData {
			if minLat < 0 || s.latency < minLat {
				minLat = s.latency
			}
			maxLat = max(maxLat, s.latency)
		}
	}

	out := make([]api.Recommendation, 0, len(pool))
	for _, s := range pool {
		costScore := 1.0
		if maxCost > minCost {
			costScore = 1 - (s.cost-minCost)/(maxCost-minCost)
		}
		latencyScore := 0.5
		if s.hasData {
			latencyScore = 1
			if maxLat > minLat {
				latencyScore = 1 - (s.latency-minLat)/(maxLat-minLat)
			}
		}
		score := w.cost*costScore + w.latency*latencyScore + w.success*s.success
		out = append(out, api.Recommendation{Model: s.model, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
