package registry

import (
	"math"
	"sort"

	"github.com/nulzo/model-gateway/pkg/api"
)

type priceBand int

const (
	bandLow priceBand = iota
	bandMid
	bandHigh
)

func bandOf(p api.Pricing) priceBand {
	switch b := p.Blended(); {
	case b < 1:
		return bandLow
	case b < 10:
		return bandMid
	default:
		return bandHigh
	}
}

// sameTier holds when two models share a price band and their context windows
// are within a factor of two of each other.
func sameTier(a, b api.ModelDescriptor) bool {
	if bandOf(a.Pricing) != bandOf(b.Pricing) {
		return false
	}
	lo, hi := a.ContextLength, b.ContextLength
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == 0 {
		return hi == 0
	}
	return hi <= 2*lo
}

// GetFallbackModel returns the best healthy substitute for id, or id itself
// when none qualifies. Candidates share the provider or the tier of id; those
// sharing both rank first, then provider, then tier, then closest price.
func (r *Registry) GetFallbackModel(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orig, ok := r.models[id]
	if !ok {
		return id
	}

	type candidate struct {
		id       string
		rank     int
		distance float64
	}
	var candidates []candidate

	for cid, m := range r.models {
		if cid == id || !r.healthyLocked(cid) {
			continue
		}
		sameProvider := m.Provider == orig.Provider
		tier := sameTier(orig, m)

		var rank int
		switch {
		case sameProvider && tier:
			rank = 0
		case sameProvider:
			rank = 1
		case tier:
			rank = 2
		default:
			continue
		}
		candidates = append(candidates, candidate{
			id:       cid,
			rank:     rank,
			distance: math.Abs(m.Pricing.Blended() - orig.Pricing.Blended()),
		})
	}

	if len(candidates) == 0 {
		return id
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.id < b.id
	})
	return candidates[0].id
}
