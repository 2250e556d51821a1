package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
	"recipe-box/internal/llm"
	"recipe-box/internal/shared"
	"recipe-box/internal/user"
)

type mockTextGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (m *mockTextGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.lastPrompt = prompt
	if m.err != nil {
		return llm.ContentResponse{}, m.err
	}
	return llm.ContentResponse{
		Content: m.response,
		Usage:   shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "mock"},
	}, nil
}

type mockUsage struct {
	count int
	since time.Time
}

func (m *mockUsage) CountForUserSince(ctx context.Context, userID, agent string, since time.Time) (int, error) {
	m.since = since
	return m.count, nil
}

const soupJSON = "```json\n" + `{
	"title": "Tomato Soup",
	"servings": "4",
	"prep_minutes": 10,
	"cook_minutes": 25,
	"ingredients": ["2 cans tomatoes", "1 onion, diced", ""],
	"steps": ["Sweat the onion", "Add tomatoes and simmer"],
	"tags": ["soup"]
}` + "\n```"

func TestExtractor(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gen := &mockTextGenerator{response: soupJSON}
		draft, meta, err := NewExtractor(gen).Extract(ctx, "Tomato soup page text", "https://example.com/soup")
		require.NoError(t, err)
		assert.Equal(t, "Tomato Soup", draft.Title)
		assert.Equal(t, "https://example.com/soup", draft.SourceURL)
		assert.Equal(t, ExtractorAgent, meta.AgentName)
		assert.Equal(t, 100, meta.Usage.PromptTokens)
		assert.Contains(t, gen.lastPrompt, "Tomato soup page text")
		assert.Contains(t, gen.lastPrompt, "https://example.com/soup")
	})

	t.Run("TruncatesLongPages", func(t *testing.T) {
		gen := &mockTextGenerator{response: soupJSON}
		_, _, err := NewExtractor(gen).Extract(ctx, strings.Repeat("x", MaxExtractChars+500), "https://example.com")
		require.NoError(t, err)
		assert.NotContains(t, gen.lastPrompt, strings.Repeat("x", MaxExtractChars+1))
	})

	t.Run("NoRecipe", func(t *testing.T) {
		gen := &mockTextGenerator{response: `{"title": "", "ingredients": [], "steps": []}`}
		_, _, err := NewExtractor(gen).Extract(ctx, "about us", "https://example.com/about")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("LLMError", func(t *testing.T) {
		gen := &mockTextGenerator{err: errors.New("quota exceeded")}
		_, _, err := NewExtractor(gen).Extract(ctx, "text", "https://example.com")
		assert.True(t, apperr.Is(err, apperr.KindExternal))
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		gen := &mockTextGenerator{response: "this is not json"}
		_, meta, err := NewExtractor(gen).Extract(ctx, "text", "https://example.com")
		assert.True(t, apperr.Is(err, apperr.KindExternal))
		assert.Equal(t, 100, meta.Usage.PromptTokens, "usage is reported even when parsing fails")
	})
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	free := &user.User{ID: "u1", Plan: user.PlanFree}
	pro := &user.User{ID: "u2", Plan: user.PlanPro, SubscriptionStatus: "active"}

	t.Run("WithinQuota", func(t *testing.T) {
		gen := &mockTextGenerator{response: soupJSON}
		usage := &mockUsage{count: 4}
		g := NewGenerator(gen, usage, 5)
		g.now = func() time.Time { return time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC) }

		draft, meta, err := g.Generate(ctx, free, GenerateRequest{
			Prompt: "a warming soup", Servings: 4, Pantry: []string{"tomatoes"}, Dietary: []string{"vegan", "gluten-free"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Tomato Soup", draft.Title)
		assert.Contains(t, draft.Tags, "ai")
		assert.Equal(t, GeneratorAgent, meta.AgentName)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), usage.since)
		assert.Contains(t, gen.lastPrompt, "- tomatoes")
		assert.Contains(t, gen.lastPrompt, "vegan, gluten-free")
	})

	t.Run("QuotaExceeded", func(t *testing.T) {
		gen := &mockTextGenerator{response: soupJSON}
		g := NewGenerator(gen, &mockUsage{count: 5}, 5)

		_, _, err := g.Generate(ctx, free, GenerateRequest{Prompt: "soup"})
		appErr := apperr.From(err)
		require.NotNil(t, appErr)
		assert.Equal(t, apperr.KindForbidden, appErr.Kind)
		assert.Equal(t, true, appErr.Details["upgrade_required"])
		assert.Empty(t, gen.lastPrompt, "no tokens spent past the quota")
	})

	t.Run("ProIsUnlimited", func(t *testing.T) {
		gen := &mockTextGenerator{response: soupJSON}
		g := NewGenerator(gen, &mockUsage{count: 500}, 5)

		remaining, err := g.Remaining(ctx, pro)
		require.NoError(t, err)
		assert.Equal(t, -1, remaining)

		_, _, err = g.Generate(ctx, pro, GenerateRequest{Prompt: "soup"})
		require.NoError(t, err)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		g := NewGenerator(&mockTextGenerator{}, &mockUsage{}, 5)
		_, _, err := g.Generate(ctx, free, GenerateRequest{Prompt: "   "})
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		_, _, err = g.Generate(ctx, free, GenerateRequest{Prompt: "soup", Servings: 51})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestDraftToRecipe(t *testing.T) {
	d := Draft{
		Title:       " Soup ",
		PrepMinutes: -5,
		Ingredients: []string{"2 cans tomatoes", "  ", "1 onion, diced"},
		Steps:       []string{"Cook"},
		ImageURL:    "javascript:alert(1)",
		SourceURL:   "https://example.com/soup",
	}
	rec := d.ToRecipe("u1")

	assert.Equal(t, "Soup", rec.Title)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, 0, rec.PrepMinutes)
	assert.Empty(t, rec.ImageURL)
	require.Len(t, rec.Ingredients, 2)
	assert.Equal(t, "can", rec.Ingredients[0].Unit)
	assert.Equal(t, "diced", rec.Ingredients[1].Note)
}
