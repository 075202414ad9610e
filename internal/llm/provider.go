package llm

import (
	"context"

	"github.com/nulzo/model-gateway/pkg/api"
)

// Provider is the uniform surface every upstream adapter implements.
type Provider interface {
	// Name is the configured provider id, the prefix of every model id it serves.
	Name() string
	Type() string // e.g., "openai", "anthropic"
	Chat(ctx context.Context, upstreamModel string, req *api.ChatRequest) (*api.ChatResponse, error)
	// Stream delivers chunks until the channel closes. A failure mid-stream arrives as a
	// final StreamResult with Err set. Implementations stop sending once ctx is done.
	Stream(ctx context.Context, upstreamModel string, req *api.ChatRequest) (<-chan api.StreamResult, error)
	// Models lists the upstream ids the provider currently advertises.
	Models(ctx context.Context) ([]string, error)
}

// Send delivers r on ch unless ctx ends first.
func Send(ctx context.Context, ch chan<- api.StreamResult, r api.StreamResult) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
