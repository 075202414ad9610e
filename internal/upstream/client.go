package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nulzo/model-gateway/internal/llm"
	"github.com/nulzo/model-gateway/internal/platform/otel"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var perMillion = decimal.NewFromInt(1_000_000)

// ModelBook is the registry surface the client depends on.
type ModelBook interface {
	GetModel(id string) (api.ModelDescriptor, bool)
	RecordOutcome(id string, latency time.Duration, success bool)
	Performance(id string) (api.PerformanceRecord, bool)
	AllPerformance() []api.PerformanceRecord
}

// Client dispatches requests to the provider owning a model and reports
// every outcome back to the registry.
type Client struct {
	providers map[string]llm.Provider
	models    ModelBook
	catalog   *Catalog
	logger    *zap.Logger
}

func NewClient(providers []llm.Provider, models ModelBook, catalog *Catalog, logger *zap.Logger) *Client {
	byName := make(map[string]llm.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		providers: byName,
		models:    models,
		catalog:   catalog,
		logger:    logger,
	}
}

func (c *Client) route(modelID string) (llm.Provider, api.ModelDescriptor, error) {
	d, ok := c.models.GetModel(modelID)
	if !ok {
		return nil, d, api.NotFoundError(fmt.Sprintf("Model '%s' is not available.", modelID))
	}
	p, ok := c.providers[d.Provider]
	if !ok {
		return nil, d, api.UnavailableError(fmt.Sprintf("Provider '%s' is not loaded.", d.Provider), nil)
	}
	return p, d, nil
}

func (c *Client) startSpan(ctx context.Context, name string, d api.ModelDescriptor, callerID string) (context.Context, trace.Span) {
	return otel.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("gateway.model", d.ID),
		attribute.String("gateway.provider", d.Provider),
		attribute.String("gateway.caller", callerID),
	))
}

// Complete performs a non-streaming completion against req.Model.
func (c *Client) Complete(ctx context.Context, req *api.ChatRequest, callerID string) (*api.ChatResponse, error) {
	p, d, err := c.route(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := c.startSpan(ctx, "upstream.complete", d, callerID)
	defer span.End()

	start := time.Now()
	resp, err := p.Chat(ctx, d.UpstreamID, req)
	latency := time.Since(start)

	if err != nil {
		err = c.fail(ctx, span, d, latency, err)
		return nil, err
	}

	c.models.RecordOutcome(d.ID, latency, true)
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("gateway.tokens", resp.Usage.TotalTokens))
	}
	return resp, nil
}

// StreamComplete starts a streaming completion. A failure to open the stream
// is returned directly; later failures arrive on the channel. Latency is
// measured to the first chunk so long generations do not read as slow.
func (c *Client) StreamComplete(ctx context.Context, req *api.ChatRequest, callerID string) (<-chan api.StreamResult, error) {
	p, d, err := c.route(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := c.startSpan(ctx, "upstream.stream", d, callerID)

	start := time.Now()
	upstream, err := p.Stream(ctx, d.UpstreamID, req)
	if err != nil {
		err = c.fail(ctx, span, d, time.Since(start), err)
		span.End()
		return nil, err
	}

	out := make(chan api.StreamResult)
	go func() {
		defer close(out)
		defer span.End()

		var firstChunk time.Duration
		for res := range upstream {
			if res.Err != nil {
				if firstChunk == 0 {
					firstChunk = time.Since(start)
				}
				res.Err = c.fail(ctx, span, d, firstChunk, res.Err)
				llm.Send(ctx, out, res)
				return
			}
			if firstChunk == 0 {
				firstChunk = time.Since(start)
			}
			if !llm.Send(ctx, out, res) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		c.models.RecordOutcome(d.ID, firstChunk, true)
	}()

	return out, nil
}

// fail records a failed outcome unless the caller went away, and normalizes err.
func (c *Client) fail(ctx context.Context, span trace.Span, d api.ModelDescriptor, latency time.Duration, err error) error {
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return ctx.Err()
	}

	c.models.RecordOutcome(d.ID, latency, false)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	c.logger.Warn("Upstream call failed",
		zap.String("model", d.ID),
		zap.String("provider", d.Provider),
		zap.Duration("latency", latency),
		zap.Error(err),
	)

	var problem *api.Problem
	if errors.As(err, &problem) {
		return err
	}
	return api.ProviderError(fmt.Sprintf("Provider '%s' failed to serve '%s'.", d.Provider, d.ID), err)
}

// CalculateCost prices a request from the model's per-million token rates.
func (c *Client) CalculateCost(modelID string, promptTokens, completionTokens int) (decimal.Decimal, error) {
	d, ok := c.models.GetModel(modelID)
	if !ok {
		return decimal.Zero, api.NotFoundError(fmt.Sprintf("Model '%s' is not available.", modelID))
	}
	return Cost(d.Pricing, promptTokens, completionTokens), nil
}

// Cost is the pure pricing function behind CalculateCost.
func Cost(p api.Pricing, promptTokens, completionTokens int) decimal.Decimal {
	prompt := decimal.NewFromFloat(p.Prompt).Mul(decimal.NewFromInt(int64(promptTokens)))
	completion := decimal.NewFromFloat(p.Completion).Mul(decimal.NewFromInt(int64(completionTokens)))
	return prompt.Add(completion).Div(perMillion)
}

func (c *Client) GetPerformanceMetrics(modelID string) (api.PerformanceRecord, bool) {
	return c.models.Performance(modelID)
}

func (c *Client) GetAllPerformanceMetrics() []api.PerformanceRecord {
	return c.models.AllPerformance()
}

// FetchCatalog lists every model the loaded providers can serve.
func (c *Client) FetchCatalog(ctx context.Context) ([]api.ModelDescriptor, error) {
	if c.catalog == nil {
		return nil, errors.New("no catalog configured")
	}
	return c.catalog.FetchCatalog(ctx)
}
