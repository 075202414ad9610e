package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind discriminates the failure classes the gateway surfaces to callers.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindNotFound           Kind = "not_found"
	KindRateLimit          Kind = "rate_limit"
	KindExternalService    Kind = "external_service"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindAuthentication:     http.StatusUnauthorized,
	KindAuthorization:      http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindRateLimit:          http.StatusTooManyRequests,
	KindExternalService:    http.StatusBadGateway,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// Status returns the HTTP status bound to the kind.
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a caller may reasonably retry the same request.
func (k Kind) Retryable() bool {
	return k == KindRateLimit || k == KindServiceUnavailable
}

// Problem implements RFC 9457
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Code      Kind   `json:"code"`
	RequestID string `json:"request_id,omitempty"`

	// RetryAfter is advertised through the Retry-After header for rate limit problems.
	RetryAfter time.Duration `json:"-"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) Unwrap() error {
	return p.Log
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem

	data := make(map[string]interface{})

	for k, v := range p.Extensions {
		data[k] = v
	}

	stdJSON, err := json.Marshal(Alias(*p))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stdJSON, &data); err != nil {
		return nil, err
	}

	return json.Marshal(data)
}

type ProblemOption func(*Problem)

// NewError creates a Problem of the given kind.
func NewError(kind Kind, title, detail string, opts ...ProblemOption) *Problem {
	p := &Problem{
		Type:       "about:blank",
		Title:      title,
		Status:     kind.Status(),
		Detail:     detail,
		Code:       kind,
		Extensions: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithExtension adds a custom key-value pair to the response
func WithExtension(key string, value interface{}) ProblemOption {
	return func(p *Problem) {
		p.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ProblemOption {
	return func(p *Problem) {
		p.Log = err
	}
}

// WithType sets the RFC "type" URI
func WithType(uri string) ProblemOption {
	return func(p *Problem) {
		p.Type = uri
	}
}

// WithStatus overrides the status derived from the kind.
func WithStatus(status int) ProblemOption {
	return func(p *Problem) {
		p.Status = status
	}
}

// ValidationError creates a rich validation error
func ValidationError(validationErrors map[string]string) *Problem {
	return NewError(
		KindValidation,
		"Validation Error",
		"One or more fields failed validation",
		WithExtension("errors", validationErrors),
	)
}

// BadRequestError creates a standard error for a bad request
func BadRequestError(detail string, opts ...ProblemOption) *Problem {
	return NewError(KindValidation, "Bad Request", detail, opts...)
}

func UnauthorizedError(detail string) *Problem {
	return NewError(KindAuthentication, "Unauthorized", detail)
}

func ForbiddenError(detail string) *Problem {
	return NewError(KindAuthorization, "Forbidden", detail)
}

func NotFoundError(detail string) *Problem {
	return NewError(KindNotFound, "Not Found", detail)
}

// RateLimitError creates a 429 problem advertising when the caller may retry.
func RateLimitError(detail string, retryAfter time.Duration) *Problem {
	p := NewError(KindRateLimit, "Too Many Requests", detail,
		WithExtension("retry_after_seconds", int64(retryAfter.Round(time.Second)/time.Second)))
	p.RetryAfter = retryAfter
	return p
}

// ProviderError creates 502 gateway error for providers
func ProviderError(detail string, err error, opts ...ProblemOption) *Problem {
	return NewError(KindExternalService, "Upstream Provider Error", detail, append(opts, WithLog(err))...)
}

func UnavailableError(detail string, err error) *Problem {
	return NewError(KindServiceUnavailable, "Service Unavailable", detail, WithLog(err))
}

// InternalError creates a standard error for any internal server error
func InternalError(detail string, err error) *Problem {
	return NewError(KindInternal, "Internal Server Error", detail, WithLog(err))
}

// AsProblem extracts a Problem from err, or wraps err as an internal problem.
func AsProblem(err error) *Problem {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}
	return InternalError("An unexpected error occurred.", err)
}

// IsKind reports whether err carries a Problem of the given kind.
func IsKind(err error, kind Kind) bool {
	var p *Problem
	return errors.As(err, &p) && p.Code == kind
}
