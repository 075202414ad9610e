package gateway

import (
	"context"

	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
)

// charsPerToken approximates token counts when a provider omits stream usage.
const charsPerToken = 4

// Stream is an open streamed completion. Chunks closes when the upstream
// finishes, fails (the last item then carries Err) or ctx ends.
type Stream struct {
	Route
	Chunks <-chan api.StreamResult
}

// StreamChat opens a streamed completion. Failures before the first chunk
// are returned as an error so the caller can still answer with a status.
// Usage is recorded once the stream completes; a stream cut short by the
// caller's context is not billed.
func (s *Service) StreamChat(ctx context.Context, req *api.ChatRequest, callerID string) (*Stream, error) {
	served, route, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	upstream, err := s.upstream.StreamComplete(ctx, served, callerID)
	if err != nil {
		return nil, err
	}

	first, open := <-upstream
	if open && first.Err != nil {
		return nil, first.Err
	}

	out := make(chan api.StreamResult)
	go func() {
		defer close(out)
		if !open {
			s.finishStream(ctx, callerID, route.Model, served, nil, 0)
			return
		}

		var (
			usage     *api.ResponseUsage
			textChars int
		)
		track := func(res api.StreamResult) {
			if res.Response == nil {
				return
			}
			if res.Response.Usage != nil {
				usage = res.Response.Usage
			}
			for _, c := range res.Response.Choices {
				if c.Delta != nil {
					textChars += len(c.Delta.Content.String())
				}
			}
		}

		track(first)
		if !llm.Send(ctx, out, first) {
			return
		}

		for res := range upstream {
			if res.Err != nil {
				llm.Send(ctx, out, res)
				return
			}
			track(res)
			if !llm.Send(ctx, out, res) {
				return
			}
		}

		s.finishStream(ctx, callerID, route.Model, served, usage, textChars)
	}()

	return &Stream{Route: route, Chunks: out}, nil
}

func (s *Service) finishStream(ctx context.Context, callerID, modelID string, req *api.ChatRequest, usage *api.ResponseUsage, completionChars int) {
	if ctx.Err() != nil {
		s.logger.Info("Stream cancelled by client, usage not recorded", zap.String("model", modelID))
		return
	}

	prompt, completion := 0, 0
	if usage != nil {
		prompt, completion = usage.PromptTokens, usage.CompletionTokens
	} else {
		promptChars := 0
		for _, m := range req.Messages {
			promptChars += len(m.Content.String())
		}
		prompt = estimateTokens(promptChars)
		completion = estimateTokens(completionChars)
	}

	s.record(ctx, callerID, modelID, prompt, completion)
}

func estimateTokens(chars int) int {
	return (chars + charsPerToken - 1) / charsPerToken
}
