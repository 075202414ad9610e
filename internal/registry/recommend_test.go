package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendations_CheapTaskFavoursLowCost(t *testing.T) {
	r, _ := newRegistry(t,
		model("mini", "openai", 0.15, 0.6, 128000),
		model("large", "openai", 2.5, 10, 128000),
		model("opus", "anthropic", 15, 75, 200000),
	)

	recs := r.GetModelRecommendations(Criteria{Task: "cheap"}, 0)
	require.Len(t, recs, 3)
	assert.Equal(t, "openai/mini", recs[0].ID)
	assert.Equal(t, "anthropic/opus", recs[2].ID)
}

func TestRecommendations_FastTaskFavoursLatency(t *testing.T) {
	r, _ := newRegistry(t,
		model("slow", "p", 0.1, 0.1, 8000),
		model("quick", "p", 5, 5, 8000),
	)
	for i := 0; i < 10; i++ {
		r.RecordOutcome("p/slow", 5*time.Second, true)
		r.RecordOutcome("p/quick", 100*time.Millisecond, true)
	}

	recs := r.GetModelRecommendations(Criteria{Task: "fast"}, 5)
	require.Len(t, recs, 2)
	assert.Equal(t, "p/quick", recs[0].ID)
}

func TestRecommendations_Filters(t *testing.T) {
	r, _ := newRegistry(t,
		model("a", "openai", 1, 1, 8000),
		model("b", "openai", 20, 20, 8000),
		model("c", "anthropic", 1, 1, 200000),
		model("d", "google", 1, 1, 1000000),
		model("e", "openai", 1, 1, 8000),
	)
	for i := 0; i < 10; i++ {
		r.RecordOutcome("openai/e", time.Millisecond, i < 9)
	}

	maxCost := 5.0
	minPerf := 0.95
	recs := r.GetModelRecommendations(Criteria{
		Task:               "chat",
		MaxCost:            &maxCost,
		MinPerformance:     &minPerf,
		PreferredProviders: []string{"openai", "anthropic"},
		ExcludeModels:      []string{"anthropic/c"},
	}, 10)

	require.Len(t, recs, 1)
	assert.Equal(t, "openai/a", recs[0].ID)

	long := r.GetModelRecommendations(Criteria{Task: "long_context", ExcludeProviders: []string{"google"}}, 10)
	require.Len(t, long, 1)
	assert.Equal(t, "anthropic/c", long[0].ID)
}

func TestRecommendations_TiesBrokenByIDAndLimit(t *testing.T) {
	r, _ := newRegistry(t,
		model("c", "p", 1, 1, 8000),
		model("a", "p", 1, 1, 8000),
		model("b", "p", 1, 1, 8000),
	)

	recs := r.GetModelRecommendations(Criteria{Task: "chat"}, 2)
	require.Len(t, recs, 2)
	assert.Equal(t, "p/a", recs[0].ID)
	assert.Equal(t, "p/b", recs[1].ID)
	assert.Equal(t, recs[0].Score, recs[1].Score)
}

func TestRecommendations_ExcludesUnhealthy(t *testing.T) {
	r, _ := newRegistry(t, model("a", "p", 1, 1, 8000))
	fail(r, "p/a", 10)
	assert.Empty(t, r.GetModelRecommendations(Criteria{Task: "chat"}, 5))
}

func TestTasks(t *testing.T) {
	assert.Equal(t, []string{"chat", "cheap", "code", "fast", "long_context", "reasoning"}, Tasks())
}
