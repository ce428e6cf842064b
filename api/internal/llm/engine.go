package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider selects the text-model backend family. The set is closed: the
// orchestrator only ever sees the Engine interface.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// ParseProvider validates a configured provider string.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderGemini:
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("unsupported provider: %q", s)
}

// Prompt is one system/user prompt pair for a schema-constrained call.
type Prompt struct {
	System string
	User   string
}

// CallOptions tune a single engine call. MaxRetries is the number of
// additional attempts after the first; Temperature applies only to text
// generation (vision calls run at a fixed low temperature).
type CallOptions struct {
	MaxRetries  int
	Temperature float64
	// ModelOverride replaces the engine's configured model for this call.
	ModelOverride string
}

// Engine is one text-model backend. All three calls are schema-constrained:
// implementations must return parsed structs or an error, never raw text.
// Transport and JSON-parse failures are retried internally per CallOptions
// with exponential backoff before the error escapes.
type Engine interface {
	Name() string
	GetModel() string

	// Vision analyzes the dog photo and returns the six-field description.
	Vision(ctx context.Context, image []byte, opt CallOptions) (VisionAnalysis, error)

	// Expert runs a text-generation call constrained to the ExpertAnalysis
	// shape. Also used by the repair ladder's ask-to-fix step.
	Expert(ctx context.Context, p Prompt, opt CallOptions) (ExpertAnalysis, error)

	// Narrate runs the persona conversion call constrained to the
	// MariNarrative shape.
	Narrate(ctx context.Context, p Prompt, opt CallOptions) (MariNarrative, error)
}

// Engines holds the constructed backends; Get resolves the closed provider set.
type Engines struct {
	OpenAI Engine
	Gemini Engine
}

func (e *Engines) Get(p Provider) (Engine, error) {
	switch p {
	case ProviderOpenAI:
		if e.OpenAI == nil {
			return nil, fmt.Errorf("openai engine not configured")
		}
		return e.OpenAI, nil
	case ProviderGemini:
		if e.Gemini == nil {
			return nil, fmt.Errorf("gemini engine not configured")
		}
		return e.Gemini, nil
	}
	return nil, fmt.Errorf("unsupported provider: %q", p)
}

// Backoff returns the delay before retry attempt n (0-based):
// 0.5s, 1s, 2s, ... Matches the pipeline's base-delay×2^attempt policy.
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
}
