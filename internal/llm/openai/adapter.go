package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/pkg/api"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	llm.Register("openai", NewAdapter)
}

// Adapter speaks the OpenAI chat completions protocol. Any compatible endpoint
// (Ollama, DeepSeek, vLLM) works by pointing base_url at it.
type Adapter struct {
	config config.ProviderConfig
	client *goopenai.Client
}

func NewAdapter(cfg config.ProviderConfig, httpClient *http.Client) (llm.Provider, error) {
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if org, ok := cfg.Config["organization"]; ok {
		clientConfig.OrgID = org
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &Adapter{
		config: cfg,
		client: goopenai.NewClientWithConfig(clientConfig),
	}, nil
}

func (a *Adapter) Name() string {
	return a.config.ID
}

func (a *Adapter) Type() string {
	return "openai"
}

func (a *Adapter) Chat(ctx context.Context, upstreamModel string, req *api.ChatRequest) (*api.ChatResponse, error) {
	resp, err := a.client.CreateChatCompletion(ctx, toOpenAIRequest(upstreamModel, req, false))
	if err != nil {
		return nil, a.handleUpstreamError(err)
	}

	out := &api.ChatResponse{
		ID:                resp.ID,
		Object:            resp.Object,
		Created:           resp.Created,
		Model:             resp.Model,
		SystemFingerprint: resp.SystemFingerprint,
		Usage: &api.ResponseUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, api.Choice{
			Index:        c.Index,
			Message:      fromOpenAIMessage(c.Message),
			FinishReason: string(c.FinishReason),
		})
	}
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, upstreamModel string, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, toOpenAIRequest(upstreamModel, req, true))
	if err != nil {
		return nil, a.handleUpstreamError(err)
	}

	ch := make(chan api.StreamResult)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				llm.Send(ctx, ch, api.StreamResult{Err: a.handleUpstreamError(err)})
				return
			}

			if !llm.Send(ctx, ch, api.StreamResult{Response: fromStreamChunk(chunk)}) {
				return
			}
		}
	}()

	return ch, nil
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, a.handleUpstreamError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (a *Adapter) handleUpstreamError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return api.ProviderError(apiErr.Message, err,
			api.WithExtension("provider", a.config.ID),
			api.WithExtension("upstream_status", apiErr.HTTPStatusCode),
			api.WithExtension("upstream_type", apiErr.Type),
			api.WithExtension("upstream_code", apiErr.Code),
		)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return api.ProviderError("The upstream provider returned an unexpected response.", err,
			api.WithExtension("provider", a.config.ID),
			api.WithExtension("upstream_status", reqErr.HTTPStatusCode),
		)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return api.ProviderError("The upstream provider could not be reached.", err,
		api.WithExtension("provider", a.config.ID))
}

func toOpenAIRequest(upstreamModel string, req *api.ChatRequest, stream bool) goopenai.ChatCompletionRequest {
	out := goopenai.ChatCompletionRequest{
		Model:  upstreamModel,
		Stop:   req.Stop.Values(),
		User:   req.User,
		Stream: stream,
	}
	if stream {
		out.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = float32(*req.PresencePenalty)
	}

	for _, m := range req.Messages {
		msg := goopenai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content.Parts == nil {
			msg.Content = m.Content.Text
		} else {
			for _, p := range m.Content.Parts {
				switch p.Type {
				case "text":
					msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
						Type: goopenai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				case "image_url":
					if p.ImageURL == nil {
						continue
					}
					msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL:    p.ImageURL.URL,
							Detail: goopenai.ImageURLDetail(p.ImageURL.Detail),
						},
					})
				}
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

func fromOpenAIMessage(m goopenai.ChatCompletionMessage) *api.ChatMessage {
	return &api.ChatMessage{
		Role:       m.Role,
		Content:    api.Content{Text: m.Content},
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
}

func fromStreamChunk(chunk goopenai.ChatCompletionStreamResponse) *api.ChatResponse {
	out := &api.ChatResponse{
		ID:                chunk.ID,
		Object:            chunk.Object,
		Created:           chunk.Created,
		Model:             chunk.Model,
		SystemFingerprint: chunk.SystemFingerprint,
		Choices:           []api.Choice{},
	}
	for _, c := range chunk.Choices {
		out.Choices = append(out.Choices, api.Choice{
			Index: c.Index,
			Delta: &api.ChatMessage{
				Role:    c.Delta.Role,
				Content: api.Content{Text: c.Delta.Content},
			},
			FinishReason: string(c.FinishReason),
		})
	}
	if chunk.Usage != nil {
		out.Usage = &api.ResponseUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return out
}
