package api

import (
	"encoding/json"
	"strings"
)

type ChatRequest struct {
	// message array is required, dive in and deep validate
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`

	// provider qualified model id, `<provider>/<model>`
	Model string `json:"model" binding:"required"`

	// Can be string or []string
	Stop *Stop `json:"stop,omitempty"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`

	// Sampling parameters. Pointers so that "not sent" and "zero" stay distinguishable,
	// which the cache fingerprint depends on.
	MaxTokens        *int     `json:"max_tokens,omitempty" binding:"omitempty,min=1"`
	Temperature      *float64 `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TopP             *float64 `json:"top_p,omitempty" binding:"omitempty,min=0,max=1"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" binding:"omitempty,min=-2,max=2"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty" binding:"omitempty,min=-2,max=2"`

	User string `json:"user,omitempty"`
}

type ChatMessage struct {
	Role       string  `json:"role" binding:"required,oneof=system user assistant tool"`
	Content    Content `json:"content"` // string or []ContentPart
	Name       string  `json:"name,omitempty"`
	ToolCallID string  `json:"tool_call_id,omitempty"`
}

// Content handles the union type: string | []ContentPart
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String flattens the text of the content, joining text parts with newlines.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type Stop struct {
	Val []string
}

func (s *Stop) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Val)
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	s.Val = []string{str}
	return nil
}

func (s Stop) MarshalJSON() ([]byte, error) {
	if len(s.Val) == 1 {
		return json.Marshal(s.Val[0])
	}
	return json.Marshal(s.Val)
}

// Values returns the stop sequences, nil safe.
func (s *Stop) Values() []string {
	if s == nil {
		return nil
	}
	return s.Val
}

type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
	Tool      Role = "tool"
)

// ValidRole reports whether r is a role the gateway forwards upstream.
func ValidRole(r string) bool {
	switch Role(r) {
	case System, User, Assistant, Tool:
		return true
	}
	return false
}

// RecommendRequest is the body of POST /models/recommend.
type RecommendRequest struct {
	Task               string   `json:"task" binding:"required,oneof=chat code reasoning fast cheap long_context"`
	MaxCost            *float64 `json:"max_cost,omitempty" binding:"omitempty,min=0"`
	MinPerformance     *float64 `json:"min_performance,omitempty" binding:"omitempty,min=0,max=1"`
	PreferredProviders []string `json:"preferred_providers,omitempty"`
	ExcludeProviders   []string `json:"exclude_providers,omitempty"`
	ExcludeModels      []string `json:"exclude_models,omitempty"`
	Limit              int      `json:"limit,omitempty" binding:"omitempty,min=1,max=50"`
}
