package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"recipe-box/internal/apperr"
	"recipe-box/internal/llm"
	"recipe-box/internal/shared"
	"recipe-box/internal/user"
)

//go:embed generator_prompt.md
var generatorPrompt string

var generatorTmpl = template.Must(template.New("generator").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(generatorPrompt))

const (
	MaxPromptLength = 1000
	MaxPantryItems  = 50
)

// GenerateRequest is what the user asks the assistant for.
type GenerateRequest struct {
	Prompt   string   `json:"prompt"`
	Servings int      `json:"servings"`
	Pantry   []string `json:"pantry"`
	Dietary  []string `json:"dietary"`
}

// Validate checks the request before any tokens are spent on it.
func (r *GenerateRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return apperr.Validation("prompt is required").WithDetail("field", "prompt")
	}
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return apperr.Validation("prompt must be at most %d characters", MaxPromptLength).WithDetail("field", "prompt")
	}
	if r.Servings < 0 || r.Servings > 50 {
		return apperr.Validation("servings must be at most 50").WithDetail("field", "servings")
	}
	if len(r.Pantry) > MaxPantryItems {
		return apperr.Validation("at most %d pantry items", MaxPantryItems).WithDetail("field", "pantry")
	}
	return nil
}

// UsageCounter counts past assistant runs for a user.
type UsageCounter interface {
	CountForUserSince(ctx context.Context, userID, agent string, since time.Time) (int, error)
}

// Generator writes new recipes on request, within the user's quota.
type Generator struct {
	textGen   llm.TextGenerator
	usage     UsageCounter
	freeLimit int
	now       func() time.Time
}

func NewGenerator(textGen llm.TextGenerator, usage UsageCounter, freeLimit int) *Generator {
	return &Generator{textGen: textGen, usage: usage, freeLimit: freeLimit, now: time.Now}
}

// Remaining returns how many generations the user has left this month,
// or -1 for unlimited.
func (g *Generator) Remaining(ctx context.Context, u *user.User) (int, error) {
	if u.IsPro() {
		return -1, nil
	}
	used, err := g.usage.CountForUserSince(ctx, u.ID, GeneratorAgent, monthStart(g.now()))
	if err != nil {
		return 0, err
	}
	return max(g.freeLimit-used, 0), nil
}

// Generate writes a recipe for the request. Free users past their
// monthly allowance get FORBIDDEN with an upgrade_required detail.
func (g *Generator) Generate(ctx context.Context, u *user.User, req GenerateRequest) (Draft, shared.AgentMeta, error) {
	meta := shared.AgentMeta{AgentName: GeneratorAgent}
	if err := req.Validate(); err != nil {
		return Draft{}, meta, err
	}

	remaining, err := g.Remaining(ctx, u)
	if err != nil {
		return Draft{}, meta, err
	}
	if remaining == 0 {
		return Draft{}, meta, apperr.Forbidden("the free plan includes %d AI recipes per month", g.freeLimit).
			WithDetail("upgrade_required", true).
			WithDetail("limit", g.freeLimit)
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := generatorTmpl.Execute(&buf, req); err != nil {
		return Draft{}, meta, apperr.Internal(fmt.Errorf("failed to render generator prompt: %w", err))
	}

	resp, err := g.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return Draft{}, meta, apperr.External("llm", err)
	}
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)

	var draft Draft
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Content)), &draft); err != nil {
		return Draft{}, meta, apperr.External("llm", fmt.Errorf("failed to parse generator response: %w", err))
	}
	if draft.Empty() {
		return Draft{}, meta, apperr.External("llm", fmt.Errorf("model returned an empty recipe"))
	}
	draft.Tags = append(draft.Tags, "ai")
	return draft, meta, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
