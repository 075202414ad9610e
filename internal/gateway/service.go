package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// recordTimeout bounds the bookkeeping done after a response is obtained.
const recordTimeout = 5 * time.Second

// CacheStatus is reported to callers in the X-Cache header.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// Models is the registry surface used for validation and fallback.
type Models interface {
	GetModel(id string) (api.ModelDescriptor, bool)
	IsModelHealthy(id string) bool
	GetFallbackModel(id string) string
}

// Upstream is the completion client.
type Upstream interface {
	Complete(ctx context.Context, req *api.ChatRequest, callerID string) (*api.ChatResponse, error)
	StreamComplete(ctx context.Context, req *api.ChatRequest, callerID string) (<-chan api.StreamResult, error)
	CalculateCost(modelID string, promptTokens, completionTokens int) (decimal.Decimal, error)
}

// Ledger receives one increment per billed request.
type Ledger interface {
	TrackUsage(ctx context.Context, callerID, modelID string, tokens int64, cost decimal.Decimal) error
}

type Options struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// Route describes how a request was resolved.
type Route struct {
	RequestedModel string
	Model          string
	FallbackUsed   bool
}

// Result is a completed non-streaming exchange. Payload is the exact body
// returned to the caller, identical across cache hits.
type Result struct {
	Route
	Payload []byte
	Cache   CacheStatus
}

// Service runs the per-request state machine: validate, check health,
// look up the cache, invoke upstream, record, respond.
type Service struct {
	models   Models
	upstream Upstream
	cache    cache.Service
	ledger   Ledger
	opts     Options
	logger   *zap.Logger
}

func NewService(models Models, upstream Upstream, cacheStore cache.Service, ledger Ledger, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		models:   models,
		upstream: upstream,
		cache:    cacheStore,
		ledger:   ledger,
		opts:     opts,
		logger:   logger,
	}
}

func (s *Service) validate(req *api.ChatRequest) error {
	if len(req.Messages) == 0 {
		return api.ValidationError(map[string]string{"messages": "at least one message is required"})
	}
	for i, m := range req.Messages {
		if !api.ValidRole(m.Role) {
			return api.ValidationError(map[string]string{
				fmt.Sprintf("messages[%d].role", i): fmt.Sprintf("unrecognized role '%s'", m.Role),
			})
		}
	}
	if _, ok := s.models.GetModel(req.Model); !ok {
		return api.NotFoundError(fmt.Sprintf("Model '%s' does not exist.", req.Model))
	}
	return nil
}

// resolve substitutes a fallback for an unhealthy model. It happens once,
// before any upstream call; failures afterwards are not retried.
func (s *Service) resolve(req *api.ChatRequest) Route {
	route := Route{RequestedModel: req.Model, Model: req.Model}
	if s.models.IsModelHealthy(req.Model) {
		return route
	}

	fallback := s.models.GetFallbackModel(req.Model)
	if fallback == req.Model {
		s.logger.Warn("Model unhealthy and no fallback available", zap.String("model", req.Model))
		return route
	}

	s.logger.Info("Substituting fallback model",
		zap.String("requested", req.Model),
		zap.String("fallback", fallback),
	)
	route.Model = fallback
	route.FallbackUsed = true
	return route
}

func (s *Service) prepare(req *api.ChatRequest) (*api.ChatRequest, Route, error) {
	if err := s.validate(req); err != nil {
		return nil, Route{}, err
	}
	route := s.resolve(req)

	served := *req
	served.Model = route.Model
	return &served, route, nil
}

// Chat serves a non-streaming completion.
func (s *Service) Chat(ctx context.Context, req *api.ChatRequest, callerID string) (*Result, error) {
	served, route, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	result := &Result{Route: route, Cache: CacheBypass}

	var key string
	if s.opts.CacheEnabled && s.cache != nil {
		key = cache.ComputeKey(served, callerID)
		payload, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			result.Payload = payload
			result.Cache = CacheHit
			return result, nil
		}
		result.Cache = CacheMiss
	}

	resp, err := s.upstream.Complete(ctx, served, callerID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, api.InternalError("Failed to encode the completion.", err)
	}
	result.Payload = payload

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var prompt, completion int
	if resp.Usage != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	s.record(recordCtx, callerID, route.Model, prompt, completion)

	if key != "" {
		if err := s.cache.Put(recordCtx, key, payload, s.opts.CacheTTL); err != nil {
			s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) record(ctx context.Context, callerID, modelID string, prompt, completion int) {
	cost, err := s.upstream.CalculateCost(modelID, prompt, completion)
	if err != nil {
		s.logger.Warn("Cost calculation failed", zap.String("model", modelID), zap.Error(err))
		cost = decimal.Zero
	}

	if s.ledger == nil {
		return
	}
	if err := s.ledger.TrackUsage(ctx, callerID, modelID, int64(prompt+completion), cost); err != nil {
		s.logger.Error("Failed to record usage",
			zap.String("caller", callerID),
			zap.String("model", modelID),
			zap.Error(err),
		)
	}
}
