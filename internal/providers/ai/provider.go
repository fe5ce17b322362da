// Package ai adapts the generation backends behind a single capability:
// turn a prompt into raw model text. Every failure crossing this package's
// boundary is a *RequestError.
package ai

import (
	"context"

	"github.com/Driserq/Convergence-sub001/internal/domain"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// SchemaDeclinedSentinel is the literal a model is instructed to answer with
// when it cannot produce the requested schema. The OpenAI adapter also renders
// refusal chunks as this sentinel.
const SchemaDeclinedSentinel = "SCHEMA_DECLINED"

// Request is the provider-agnostic generation input.
type Request struct {
	Prompt   string
	Segments *domain.PromptSegments
}

// Response carries the raw model text plus best-effort provider metadata.
type Response struct {
	RawText string
	Model   string
	Meta    map[string]any
}

// Provider produces raw text from a prompt.
type Provider interface {
	Name() string
	GenerateBlueprint(ctx context.Context, req Request) (*Response, error)
}

// combinedPrompt flattens segments for backends without role separation.
func combinedPrompt(req Request) string {
	if req.Segments == nil {
		return req.Prompt
	}
	system := req.Segments.System
	user := req.Segments.User
	if user == "" {
		user = req.Prompt
	}
	switch {
	case system == "":
		return user
	case user == "":
		return system
	default:
		return system + "\n\n" + user
	}
}
