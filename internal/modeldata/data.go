package modeldata

import (
	"strings"

	"github.com/nulzo/model-gateway/pkg/api"
)

// Known is reference metadata for models whose listings carry no pricing.
type Known struct {
	Name          string
	ContextLength int
	Pricing       api.Pricing // USD per 1M tokens
}

var knownModels = map[string]Known{
	// OpenAI
	"gpt-4o":        {Name: "GPT-4o", ContextLength: 128000, Pricing: api.Pricing{Prompt: 2.5, Completion: 10}},
	"gpt-4o-mini":   {Name: "GPT-4o mini", ContextLength: 128000, Pricing: api.Pricing{Prompt: 0.15, Completion: 0.6}},
	"gpt-4-turbo":   {Name: "GPT-4 Turbo", ContextLength: 128000, Pricing: api.Pricing{Prompt: 10, Completion: 30}},
	"gpt-3.5-turbo": {Name: "GPT-3.5 Turbo", ContextLength: 16385, Pricing: api.Pricing{Prompt: 0.5, Completion: 1.5}},

	// Anthropic
	"claude-3-5-sonnet-20240620": {Name: "Claude 3.5 Sonnet", ContextLength: 200000, Pricing: api.Pricing{Prompt: 3, Completion: 15}},
	"claude-3-5-haiku-20241022":  {Name: "Claude 3.5 Haiku", ContextLength: 200000, Pricing: api.Pricing{Prompt: 0.8, Completion: 4}},
	"claude-3-opus-20240229":     {Name: "Claude 3 Opus", ContextLength: 200000, Pricing: api.Pricing{Prompt: 15, Completion: 75}},
	"claude-3-haiku-20240307":    {Name: "Claude 3 Haiku", ContextLength: 200000, Pricing: api.Pricing{Prompt: 0.25, Completion: 1.25}},

	// Gemini, reachable through OpenAI compatible endpoints
	"gemini-1.5-pro":   {Name: "Gemini 1.5 Pro", ContextLength: 2000000, Pricing: api.Pricing{Prompt: 3.5, Completion: 10.5}},
	"gemini-1.5-flash": {Name: "Gemini 1.5 Flash", ContextLength: 1000000, Pricing: api.Pricing{Prompt: 0.35, Completion: 1.05}},
}

// Lookup finds reference metadata for an upstream model id. Ids are matched
// case-insensitively and a trailing ":latest" tag is ignored.
func Lookup(upstreamID string) (Known, bool) {
	id := strings.TrimSuffix(strings.ToLower(upstreamID), ":latest")
	k, ok := knownModels[id]
	return k, ok
}
