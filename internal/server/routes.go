package server

import (
	"context"

	"github.com/nulzo/model-gateway/internal/server/middleware"
	v1 "github.com/nulzo/model-gateway/internal/server/v1"
	"github.com/nulzo/model-gateway/internal/server/validator"
)

func (s *Server) SetupRoutes() {
	val := validator.New()
	dev := s.config.Server.IsDevelopment()

	ping := func(ctx context.Context) error { return s.deps.Redis.Ping(ctx).Err() }
	status := v1.NewStatusHandler(ping, s.deps.Models, s.deps.Cache, s.deps.Version)
	s.router.GET("/health", status.Health)

	ipLimiter := middleware.NewRateLimiter(s.config.RateLimit.IPRequestsPerSecond, s.config.RateLimit.IPBurst, s.logger)
	quota := middleware.NewQuota(s.deps.Redis, s.config.RateLimit.Requests, s.config.RateLimit.Window, s.logger)

	api := s.router.Group("/v1")
	api.Use(ipLimiter.Middleware())
	api.Use(middleware.Auth(s.config.Auth.Keys))
	api.Use(quota.Middleware())
	{
		chat := v1.NewChatHandler(s.deps.Chat, val, s.logger, dev)
		api.POST("/chat/completions", chat.CreateCompletion)

		models := v1.NewModelHandler(s.deps.Models, val)
		api.GET("/models", models.ListModels)
		api.GET("/models/*id", models.GetModel)
		api.POST("/models/recommend", models.Recommend)

		usage := v1.NewUsageHandler(s.deps.Usage)
		api.GET("/usage", usage.GetUsage)

		api.GET("/status", status.Status)

		admin := api.Group("", middleware.RequireScope(middleware.ScopeAdmin))
		admin.POST("/models/refresh", models.Refresh)
		admin.DELETE("/cache", v1.NewCacheHandler(s.deps.Cache).Clear)
		admin.GET("/reports/:date", usage.GetReport)
	}
}
