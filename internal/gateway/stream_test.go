package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func chunk(text string) api.StreamResult {
	return api.StreamResult{Response: &api.ChatResponse{
		Object:  "chat.completion.chunk",
		Choices: []api.Choice{{Delta: &api.ChatMessage{Content: api.Content{Text: text}}}},
	}}
}

func feed(results ...api.StreamResult) <-chan api.StreamResult {
	ch := make(chan api.StreamResult, len(results))
	for _, r := range results {
		ch <- r
	}
	close(ch)
	return ch
}

func drain(s *Stream) []api.StreamResult {
	var out []api.StreamResult
	for r := range s.Chunks {
		out = append(out, r)
	}
	return out
}

func TestStreamChat_RecordsReportedUsage(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	usage := api.StreamResult{Response: &api.ChatResponse{
		Choices: []api.Choice{},
		Usage:   &api.ResponseUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}}

	up.On("StreamComplete", mock.Anything, mock.Anything, "caller").Return(feed(chunk("Hel"), chunk("lo"), usage), nil)
	up.On("CalculateCost", "p/m1", 3, 5).Return(decimal.RequireFromString("0.000013"), nil)
	ledger.On("TrackUsage", mock.Anything, "caller", "p/m1", int64(8), decimal.RequireFromString("0.000013")).Return(nil).Once()

	stream, err := svc.StreamChat(context.Background(), hiRequest("p/m1"), "caller")
	require.NoError(t, err)

	results := drain(stream)
	assert.Len(t, results, 3)
	ledger.AssertExpectations(t)
}

func TestStreamChat_EstimatesUsageWhenMissing(t *testing.T) {
	svc, _, up, ledger := newFixture(t)

	up.On("StreamComplete", mock.Anything, mock.Anything, mock.Anything).Return(feed(chunk("12345678"), chunk("9")), nil)
	// prompt "hi" is 1 token, completion of 9 chars is 3
	up.On("CalculateCost", "p/m1", 1, 3).Return(decimal.Zero, nil)
	ledger.On("TrackUsage", mock.Anything, "caller", "p/m1", int64(4), decimal.Zero).Return(nil).Once()

	stream, err := svc.StreamChat(context.Background(), hiRequest("p/m1"), "caller")
	require.NoError(t, err)
	drain(stream)

	ledger.AssertExpectations(t)
}

func TestStreamChat_ErrorBeforeFirstChunk(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	upstreamErr := api.ProviderError("overloaded", errors.New("529"))

	up.On("StreamComplete", mock.Anything, mock.Anything, mock.Anything).Return(feed(api.StreamResult{Err: upstreamErr}), nil)

	_, err := svc.StreamChat(context.Background(), hiRequest("p/m1"), "caller")
	assert.True(t, api.IsKind(err, api.KindExternalService))
	ledger.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStreamChat_ErrorMidStreamIsDelivered(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	upstreamErr := api.ProviderError("reset", errors.New("eof"))

	up.On("StreamComplete", mock.Anything, mock.Anything, mock.Anything).Return(feed(chunk("a"), api.StreamResult{Err: upstreamErr}), nil)

	stream, err := svc.StreamChat(context.Background(), hiRequest("p/m1"), "caller")
	require.NoError(t, err)

	results := drain(stream)
	require.Len(t, results, 2)
	assert.Error(t, results[1].Err)
	ledger.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStreamChat_CancelledIsNotBilled(t *testing.T) {
	svc, _, up, ledger := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	upstream := make(chan api.StreamResult, 1)
	upstream <- chunk("first")
	up.On("StreamComplete", mock.Anything, mock.Anything, mock.Anything).Return((<-chan api.StreamResult)(upstream), nil)

	stream, err := svc.StreamChat(ctx, hiRequest("p/m1"), "caller")
	require.NoError(t, err)

	<-stream.Chunks
	cancel()
	close(upstream)
	drain(stream)

	ledger.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(0))
	assert.Equal(t, 1, estimateTokens(4))
	assert.Equal(t, 2, estimateTokens(5))
}
