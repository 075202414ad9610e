package httpclient

import "fmt"

// UpstreamError is returned by SendRequest and StreamRequest when a provider
// answers with a non-2xx status. Body holds at most the first chunk of the
// response so adapters can pull the provider's own error message out of it.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("provider returned %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("provider returned %d for %s %s", e.StatusCode, e.Method, e.URL)
}
