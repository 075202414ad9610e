package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Complete(ctx context.Context, req *api.ChatRequest, callerID string) (*api.ChatResponse, error) {
	args := m.Called(ctx, req, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.ChatResponse), args.Error(1)
}

func (m *MockUpstream) StreamComplete(ctx context.Context, req *api.ChatRequest, callerID string) (<-chan api.StreamResult, error) {
	args := m.Called(ctx, req, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan api.StreamResult), args.Error(1)
}

func (m *MockUpstream) CalculateCost(modelID string, promptTokens, completionTokens int) (decimal.Decimal, error) {
	args := m.Called(modelID, promptTokens, completionTokens)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) TrackUsage(ctx context.Context, callerID, modelID string, tokens int64, cost decimal.Decimal) error {
	args := m.Called(ctx, callerID, modelID, tokens, cost)
	return args.Error(0)
}

type staticCatalog []api.ModelDescriptor

func (c staticCatalog) FetchCatalog(context.Context) ([]api.ModelDescriptor, error) {
	return c, nil
}

var health = config.HealthConfig{Window: 50, MinSamples: 10, MinSuccessRate: 0.8, MaxAvgLatency: 30 * time.Second}

func newFixture(t *testing.T) (*Service, *registry.Registry, *MockUpstream, *MockLedger) {
	t.Helper()

	reg := registry.New(staticCatalog{
		{ID: "p/m1", Provider: "p", UpstreamID: "m1", ContextLength: 8000, Pricing: api.Pricing{Prompt: 1, Completion: 2}},
		{ID: "p/m2", Provider: "p", UpstreamID: "m2", ContextLength: 8000, Pricing: api.Pricing{Prompt: 1, Completion: 2}},
	}, nil, health, nil)
	require.NoError(t, reg.Initialize(context.Background()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	up := &MockUpstream{}
	ledger := &MockLedger{}
	svc := NewService(reg, up, cache.New(rdb, time.Hour, nil), ledger, Options{CacheEnabled: true, CacheTTL: time.Hour}, nil)
	return svc, reg, up, ledger
}

func hiRequest(model string) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    model,
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "hi"}}},
	}
}

func completion(id string) *api.ChatResponse {
	return &api.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Choices: []api.Choice{{Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "hello"}}, FinishReason: "stop"}},
		Usage:   &api.ResponseUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
}

func TestChat_SecondCallServedFromCache(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	ctx := context.Background()
	cost := decimal.RequireFromString("0.000003")

	up.On("Complete", mock.Anything, mock.MatchedBy(func(r *api.ChatRequest) bool { return r.Model == "p/m1" }), "caller").
		Return(completion("cmpl-1"), nil).Once()
	up.On("CalculateCost", "p/m1", 1, 1).Return(cost, nil).Once()
	ledger.On("TrackUsage", mock.Anything, "caller", "p/m1", int64(2), cost).Return(nil).Once()

	first, err := svc.Chat(ctx, hiRequest("p/m1"), "caller")
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.Cache)

	second, err := svc.Chat(ctx, hiRequest("p/m1"), "caller")
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.Cache)
	assert.Equal(t, first.Payload, second.Payload)

	up.AssertNumberOfCalls(t, "Complete", 1)
	ledger.AssertNumberOfCalls(t, "TrackUsage", 1)
}

func TestChat_CacheIsPerCaller(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	ctx := context.Background()

	up.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(completion("cmpl"), nil)
	up.On("CalculateCost", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, nil)
	ledger.On("TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Chat(ctx, hiRequest("p/m1"), "alice")
	require.NoError(t, err)
	res, err := svc.Chat(ctx, hiRequest("p/m1"), "bob")
	require.NoError(t, err)

	assert.Equal(t, CacheMiss, res.Cache)
	up.AssertNumberOfCalls(t, "Complete", 2)
}

func TestChat_FallbackAfterTenFailures(t *testing.T) {
	svc, reg, up, ledger := newFixture(t)

	for i := 0; i < 10; i++ {
		reg.RecordOutcome("p/m1", time.Second, false)
	}

	up.On("Complete", mock.Anything, mock.MatchedBy(func(r *api.ChatRequest) bool { return r.Model == "p/m2" }), "caller").
		Return(completion("cmpl-2"), nil).Once()
	up.On("CalculateCost", "p/m2", 1, 1).Return(decimal.Zero, nil)
	ledger.On("TrackUsage", mock.Anything, "caller", "p/m2", int64(2), decimal.Zero).Return(nil)

	res, err := svc.Chat(context.Background(), hiRequest("p/m1"), "caller")
	require.NoError(t, err)

	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "p/m1", res.RequestedModel)
	assert.Equal(t, "p/m2", res.Model)
	up.AssertExpectations(t)
}

func TestChat_NoRetryAfterFallbackFailure(t *testing.T) {
	svc, reg, up, _ := newFixture(t)
	for i := 0; i < 10; i++ {
		reg.RecordOutcome("p/m1", time.Second, false)
	}

	upstreamErr := api.ProviderError("boom", errors.New("503"))
	up.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil, upstreamErr)

	_, err := svc.Chat(context.Background(), hiRequest("p/m1"), "caller")
	assert.True(t, api.IsKind(err, api.KindExternalService))
	up.AssertNumberOfCalls(t, "Complete", 1)
}

func TestChat_Validation(t *testing.T) {
	svc, _, up, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.Chat(ctx, &api.ChatRequest{Model: "p/m1"}, "caller")
	assert.True(t, api.IsKind(err, api.KindValidation))

	bad := hiRequest("p/m1")
	bad.Messages[0].Role = "wizard"
	_, err = svc.Chat(ctx, bad, "caller")
	assert.True(t, api.IsKind(err, api.KindValidation))

	_, err = svc.Chat(ctx, hiRequest("p/unknown"), "caller")
	assert.True(t, api.IsKind(err, api.KindNotFound))

	up.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestChat_CacheDisabledBypasses(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	svc.opts.CacheEnabled = false

	up.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(completion("c"), nil)
	up.On("CalculateCost", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, nil)
	ledger.On("TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := svc.Chat(context.Background(), hiRequest("p/m1"), "caller")
	require.NoError(t, err)
	assert.Equal(t, CacheBypass, res.Cache)
}
