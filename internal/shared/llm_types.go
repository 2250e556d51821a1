package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Add sums two usages, keeping the first non-empty model name.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	model := u.Model
	if model == "" {
		model = o.Model
	}
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Model:            model,
	}
}

// AgentMeta holds operational metadata for an assistant execution.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}
