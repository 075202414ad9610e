package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error pushed with c.Error as an RFC 9457
// problem. In development the internal cause is exposed as "debug".
func ErrorHandler(logger *zap.Logger, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		problem := render(api.AsProblem(err), c, development)

		if problem.Status >= 500 {
			logger.Error("Request failed",
				zap.String("request_id", problem.RequestID),
				zap.String("code", string(problem.Code)),
				zap.String("detail", problem.Detail),
				zap.Error(err),
			)
		} else if problem.Log != nil {
			logger.Warn("Request rejected",
				zap.String("request_id", problem.RequestID),
				zap.String("code", string(problem.Code)),
				zap.Error(problem.Log),
			)
		}

		if problem.RetryAfter > 0 {
			secs := int64(math.Ceil(problem.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
		}

		c.Header("Content-Type", "application/problem+json")
		c.JSON(problem.Status, problem)
		c.Abort()
	}
}

// render copies p so a shared problem value is never mutated per request.
func render(p *api.Problem, c *gin.Context, development bool) *api.Problem {
	out := *p
	out.Extensions = make(map[string]interface{}, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		out.Extensions[k] = v
	}
	out.RequestID = GetRequestID(c)
	if out.Instance == "" {
		out.Instance = c.Request.URL.Path
	}
	if development && p.Log != nil {
		out.Extensions["debug"] = p.Log.Error()
	}
	return &out
}

// WriteProblem renders err immediately, for handlers that cannot defer to ErrorHandler.
func WriteProblem(c *gin.Context, err error, development bool) {
	p := render(api.AsProblem(err), c, development)
	c.JSON(p.Status, p)
}
