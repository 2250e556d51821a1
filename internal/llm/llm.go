package llm

import (
	"context"
	"fmt"
	"strings"

	"recipe-box/internal/config"
	"recipe-box/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// NewFromConfig builds the generator selected by LLM_PROVIDER. It returns
// nil without error when the provider has no API key.
func NewFromConfig(ctx context.Context, cfg *config.Config) (TextGenerator, error) {
	if !cfg.LLMEnabled() {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case "groq":
		return NewGroqClient(cfg), nil
	case "gemini", "":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
}

// CleanJSON strips the markdown code fences models like to wrap JSON in.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line, e.g. ```json
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
