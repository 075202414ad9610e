package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/httpclient"
	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 4096
)

func init() {
	llm.Register("anthropic", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig, client *http.Client) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{
		config: cfg,
		client: client,
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "anthropic" }

type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Request struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type Response struct {
	ID         string    `json:"id"`
	Content    []Content `json:"content"`
	Model      string    `json:"model"`
	StopReason string    `json:"stop_reason"`
	Usage      Usage     `json:"usage"`
}

type Content struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": defaultVersion,
	}
	if v, ok := a.config.Config["version"]; ok {
		headers["anthropic-version"] = v
	}
	return headers
}

func (a *Adapter) url(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(a.config.BaseURL, "/"), path)
}

// toAnthropicReq lifts system prompts into the top-level field and folds tool
// results into user turns, which is all the messages API accepts.
func toAnthropicReq(upstreamModel string, req *api.ChatRequest) Request {
	ar := Request{
		Model:         upstreamModel,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop.Values(),
	}
	if req.MaxTokens != nil {
		ar.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == string(api.System) {
			system = append(system, m.Content.String())
			continue
		}

		role := m.Role
		if role == string(api.Tool) {
			role = string(api.User)
		}

		parts := toContent(m.Content)
		if len(parts) == 0 {
			continue
		}
		ar.Messages = append(ar.Messages, Message{Role: role, Content: parts})
	}
	ar.System = strings.Join(system, "\n")
	return ar
}

func toContent(c api.Content) []Content {
	if c.Parts == nil {
		if c.Text == "" {
			return nil
		}
		return []Content{{Type: "text", Text: c.Text}}
	}

	var out []Content
	for _, part := range c.Parts {
		switch part.Type {
		case "text":
			out = append(out, Content{Type: "text", Text: part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			if src, ok := imageSource(part.ImageURL.URL); ok {
				out = append(out, Content{Type: "image", Source: src})
			}
		}
	}
	return out
}

// imageSource accepts data URLs (base64 only) and remote http(s) URLs.
func imageSource(raw string) (*ImageSource, bool) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return &ImageSource{Type: "url", URL: raw}, true
	}
	meta, data, found := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !found || !strings.HasPrefix(raw, "data:") || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, false
	}
	return &ImageSource{
		Type:      "base64",
		MediaType: strings.TrimSuffix(meta, ";base64"),
		Data:      data,
	}, true
}

func (a *Adapter) Chat(ctx context.Context, upstreamModel string, req *api.ChatRequest) (*api.ChatResponse, error) {
	ar := toAnthropicReq(upstreamModel, req)

	var anthroResp Response
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, a.url("messages"), a.headers(), ar, &anthroResp); err != nil {
		return nil, a.handleUpstreamError(err)
	}

	var text strings.Builder
	for _, c := range anthroResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return &api.ChatResponse{
		ID:      anthroResp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   anthroResp.Model,
		Choices: []api.Choice{{
			Index: 0,
			Message: &api.ChatMessage{
				Role:    string(api.Assistant),
				Content: api.Content{Text: text.String()},
			},
			FinishReason: finishReason(anthroResp.StopReason),
		}},
		Usage: &api.ResponseUsage{
			PromptTokens:     anthroResp.Usage.InputTokens,
			CompletionTokens: anthroResp.Usage.OutputTokens,
			TotalTokens:      anthroResp.Usage.InputTokens + anthroResp.Usage.OutputTokens,
		},
	}, nil
}

// Stream maps Anthropic's typed events onto OpenAI style chunks. Usage is
// reported once, on message_delta, combining the input count from message_start.
func (a *Adapter) Stream(ctx context.Context, upstreamModel string, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	ar := toAnthropicReq(upstreamModel, req)
	ar.Stream = true

	ch := make(chan api.StreamResult)

	go func() {
		defer close(ch)

		var (
			id          string
			model       string
			inputTokens int
			created     = time.Now().Unix()
		)

		chunk := func(choices []api.Choice, usage *api.ResponseUsage) api.StreamResult {
			if choices == nil {
				choices = []api.Choice{}
			}
			return api.StreamResult{Response: &api.ChatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: choices,
				Usage:   usage,
			}}
		}

		err := httpclient.StreamRequest(ctx, a.client, http.MethodPost, a.url("messages"), a.headers(), ar, func(line string) error {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok || !gjson.Valid(data) {
				return nil
			}
			event := gjson.Parse(data)

			var res api.StreamResult
			switch event.Get("type").String() {
			case "message_start":
				id = event.Get("message.id").String()
				model = event.Get("message.model").String()
				inputTokens = int(event.Get("message.usage.input_tokens").Int())
				res = chunk([]api.Choice{{Delta: &api.ChatMessage{Role: string(api.Assistant)}}}, nil)
			case "content_block_delta":
				if event.Get("delta.type").String() != "text_delta" {
					return nil
				}
				res = chunk([]api.Choice{{Delta: &api.ChatMessage{
					Content: api.Content{Text: event.Get("delta.text").String()},
				}}}, nil)
			case "message_delta":
				output := int(event.Get("usage.output_tokens").Int())
				res = chunk([]api.Choice{{
					Delta:        &api.ChatMessage{},
					FinishReason: finishReason(event.Get("delta.stop_reason").String()),
				}}, &api.ResponseUsage{
					PromptTokens:     inputTokens,
					CompletionTokens: output,
					TotalTokens:      inputTokens + output,
				})
			case "message_stop":
				return httpclient.ErrStopStream
			case "error":
				return api.ProviderError(event.Get("error.message").String(), errors.New(data),
					api.WithExtension("provider", a.config.ID),
					api.WithExtension("upstream_type", event.Get("error.type").String()),
				)
			default:
				return nil
			}

			if !llm.Send(ctx, ch, res) {
				return ctx.Err()
			}
			return nil
		})

		if err != nil && ctx.Err() == nil {
			llm.Send(ctx, ch, api.StreamResult{Err: a.handleUpstreamError(err)})
		}
	}()

	return ch, nil
}

// Models lists the ids from GET /models.
func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := httpclient.SendRequest(ctx, a.client, http.MethodGet, a.url("models?limit=1000"), a.headers(), nil, &raw); err != nil {
		return nil, a.handleUpstreamError(err)
	}

	var ids []string
	for _, id := range gjson.GetBytes(raw, "data.#.id").Array() {
		ids = append(ids, id.String())
	}
	return ids, nil
}

func (a *Adapter) handleUpstreamError(err error) error {
	var problem *api.Problem
	if errors.As(err, &problem) {
		return err
	}

	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return api.ProviderError("The upstream provider could not be reached.", err,
			api.WithExtension("provider", a.config.ID))
	}

	detail := gjson.GetBytes(upstreamErr.Body, "error.message").String()
	if detail == "" {
		detail = string(upstreamErr.Body)
	}
	return api.ProviderError(detail, err,
		api.WithExtension("provider", a.config.ID),
		api.WithExtension("upstream_status", upstreamErr.StatusCode),
		api.WithExtension("upstream_type", gjson.GetBytes(upstreamErr.Body, "error.type").String()),
	)
}

func finishReason(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return stop
}
