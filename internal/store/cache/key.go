package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"

	"github.com/nulzo/model-gateway/pkg/api"
)

const nilSentinel = "<nil>"

// ComputeKey fingerprints everything that can change a completion: model,
// messages, sampling parameters, stop sequences and the caller. Fields are
// written in a fixed order, each length-prefixed, so distinct requests can
// not collide by concatenation.
func ComputeKey(req *api.ChatRequest, callerID string) string {
	h := sha256.New()

	field(h, "model", req.Model)
	field(h, "messages", strconv.Itoa(len(req.Messages)))
	for _, m := range req.Messages {
		field(h, "role", m.Role)
		field(h, "name", m.Name)
		field(h, "tool_call_id", m.ToolCallID)
		if m.Content.Parts == nil {
			field(h, "text", m.Content.Text)
			continue
		}
		field(h, "parts", strconv.Itoa(len(m.Content.Parts)))
		for _, p := range m.Content.Parts {
			field(h, "type", p.Type)
			field(h, "text", p.Text)
			if p.ImageURL != nil {
				field(h, "image_url", p.ImageURL.URL)
				field(h, "detail", p.ImageURL.Detail)
			} else {
				field(h, "image_url", nilSentinel)
			}
		}
	}

	field(h, "max_tokens", optInt(req.MaxTokens))
	field(h, "temperature", optFloat(req.Temperature))
	field(h, "top_p", optFloat(req.TopP))
	field(h, "frequency_penalty", optFloat(req.FrequencyPenalty))
	field(h, "presence_penalty", optFloat(req.PresencePenalty))

	if req.Stop == nil {
		field(h, "stop", nilSentinel)
	} else {
		field(h, "stop", strconv.Itoa(len(req.Stop.Val)))
		for _, s := range req.Stop.Val {
			field(h, "seq", s)
		}
	}

	field(h, "caller", callerID)

	return keyPrefix + req.Model + ":" + hex.EncodeToString(h.Sum(nil))
}

func field(h hash.Hash, name, value string) {
	_, _ = fmt.Fprintf(h, "%s:%d:%s;", name, len(value), value)
}

func optInt(v *int) string {
	if v == nil {
		return nilSentinel
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return nilSentinel
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
