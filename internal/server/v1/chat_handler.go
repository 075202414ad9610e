package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/server/middleware"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
)

const (
	HeaderModel          = "X-Gateway-Model"
	HeaderRequestedModel = "X-Gateway-Requested-Model"
	HeaderFallback       = "X-Gateway-Fallback"
	HeaderCache          = "X-Cache"
)

type ChatService interface {
	Chat(ctx context.Context, req *api.ChatRequest, callerID string) (*gateway.Result, error)
	StreamChat(ctx context.Context, req *api.ChatRequest, callerID string) (*gateway.Stream, error)
}

type ChatHandler struct {
	service     ChatService
	validator   *validator.Validator
	logger      *zap.Logger
	development bool
}

func NewChatHandler(service ChatService, v *validator.Validator, logger *zap.Logger, development bool) *ChatHandler {
	return &ChatHandler{
		service:     service,
		validator:   v,
		logger:      logger,
		development: development,
	}
}

func routeHeaders(c *gin.Context, r gateway.Route) {
	c.Header(HeaderModel, r.Model)
	c.Header(HeaderRequestedModel, r.RequestedModel)
	c.Header(HeaderFallback, strconv.FormatBool(r.FallbackUsed))
}

// CreateCompletion handles POST /v1/chat/completions.
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	res, err := h.service.Chat(c.Request.Context(), &req, middleware.CallerID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	routeHeaders(c, res.Route)
	c.Header(HeaderCache, string(res.Cache))
	c.Data(http.StatusOK, "application/json", res.Payload)
}

func (h *ChatHandler) handleStream(c *gin.Context, req *api.ChatRequest) {
	stream, err := h.service.StreamChat(c.Request.Context(), req, middleware.CallerID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	routeHeaders(c, stream.Route)
	c.Header(HeaderCache, string(gateway.CacheBypass))
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			// client gone; drain so the producer can observe cancellation and exit
			go func() {
				for range stream.Chunks {
				}
			}()
			return
		case result, ok := <-stream.Chunks:
			if !ok {
				_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
				c.Writer.Flush()
				return
			}
			if result.Err != nil {
				h.writeStreamError(c, c.Writer, result.Err)
				c.Writer.Flush()
				return
			}

			data, err := json.Marshal(result.Response)
			if err != nil {
				h.logger.Error("Failed to encode stream chunk", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (h *ChatHandler) writeStreamError(c *gin.Context, w io.Writer, err error) {
	if c.Request.Context().Err() != nil {
		return
	}

	requestID := middleware.GetRequestID(c)
	h.logger.Warn("Stream failed mid-flight", zap.String("request_id", requestID), zap.Error(err))

	src := api.AsProblem(err)
	problem := *src
	problem.RequestID = requestID
	problem.Extensions = make(map[string]interface{}, len(src.Extensions)+1)
	for k, v := range src.Extensions {
		problem.Extensions[k] = v
	}
	if h.development && problem.Log != nil {
		problem.Extensions["debug"] = problem.Log.Error()
	}

	data, _ := json.Marshal(&problem)
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}
