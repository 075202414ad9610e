package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var keys = []config.APIKeyConfig{
	{Key: "sk-user", Caller: "alice"},
	{Key: "sk-admin", Caller: "ops", Scopes: []string{ScopeAdmin}},
}

func newEngine(development bool, mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(zap.NewNop(), development))
	r.Use(mw...)
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	r := newEngine(false, Auth(keys))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, CallerID(c)) })
	r.GET("/admin", RequireScope(ScopeAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := do(r, http.MethodGet, "/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "authentication", body["code"])
	assert.NotEmpty(t, body["request_id"])
	assert.Equal(t, w.Header().Get(RequestIDHeader), body["request_id"])

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/whoami", "sk-wrong").Code)

	w = do(r, http.MethodGet, "/whoami", "sk-user")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = do(r, http.MethodGet, "/admin", "sk-user")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "authorization", decodeProblem(t, w)["code"])

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", "sk-admin").Code)
}

func TestAuth_SchemeIsCaseInsensitive(t *testing.T) {
	r := newEngine(false, Auth(keys))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer sk-user")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID_ReusesInbound(t *testing.T) {
	r := newEngine(false)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Body.String())
	assert.Equal(t, "trace-123", w.Header().Get(RequestIDHeader))
}

func TestErrorHandler(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	t.Run("hides internal cause in production", func(t *testing.T) {
		r := newEngine(false)
		r.GET("/", func(c *gin.Context) { _ = c.Error(api.UnavailableError("Cache store down", cause)) })

		w := do(r, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		body := decodeProblem(t, w)
		assert.Equal(t, "service_unavailable", body["code"])
		assert.Equal(t, "Cache store down", body["detail"])
		assert.Equal(t, "/", body["instance"])
		assert.NotContains(t, body, "debug")
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("exposes cause in development", func(t *testing.T) {
		r := newEngine(true)
		r.GET("/", func(c *gin.Context) { _ = c.Error(api.UnavailableError("Cache store down", cause)) })

		body := decodeProblem(t, do(r, http.MethodGet, "/", ""))
		assert.Equal(t, cause.Error(), body["debug"])
	})

	t.Run("plain errors become internal", func(t *testing.T) {
		r := newEngine(false)
		r.GET("/", func(c *gin.Context) { _ = c.Error(cause) })

		w := do(r, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal", decodeProblem(t, w)["code"])
	})

	t.Run("rate limits advertise retry after", func(t *testing.T) {
		r := newEngine(false)
		r.GET("/", func(c *gin.Context) { _ = c.Error(api.RateLimitError("slow down", 1500*time.Millisecond)) })

		w := do(r, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, zap.NewNop())
	r := newEngine(false, rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)

	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestQuota_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	q := NewQuota(rdb, 100, time.Hour, zap.NewNop())
	q.now = func() time.Time { return clock }

	r := newEngine(false, Auth(keys), q.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := range 100 {
		w := do(r, http.MethodGet, "/", "sk-user")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := do(r, http.MethodGet, "/", "sk-user")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2700", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "rate_limit", decodeProblem(t, w)["code"])

	// other callers have their own budget
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "sk-admin").Code)

	clock = clock.Add(time.Hour)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "sk-user").Code)
}

func TestQuota_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	q := NewQuota(rdb, 1, time.Hour, zap.NewNop())
	r := newEngine(false, Auth(keys), q.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "sk-user").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "sk-user").Code)
}
