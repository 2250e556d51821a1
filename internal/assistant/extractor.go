package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/llm"
	"recipe-box/internal/shared"
)

//go:embed extractor_prompt.md
var extractorPrompt string

var extractorTmpl = template.Must(template.New("extractor").Parse(extractorPrompt))

// MaxExtractChars bounds the page text sent to the model.
const MaxExtractChars = 20000

// Extractor pulls a structured recipe out of page text.
type Extractor struct {
	textGen llm.TextGenerator
}

func NewExtractor(textGen llm.TextGenerator) *Extractor {
	return &Extractor{textGen: textGen}
}

// Extract asks the model for the recipe on a page. A page without a
// recipe is a VALIDATION error.
func (e *Extractor) Extract(ctx context.Context, text, sourceURL string) (Draft, shared.AgentMeta, error) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: ExtractorAgent}

	if r := []rune(text); len(r) > MaxExtractChars {
		text = string(r[:MaxExtractChars])
	}

	var buf bytes.Buffer
	if err := extractorTmpl.Execute(&buf, struct{ SourceURL, Content string }{sourceURL, text}); err != nil {
		return Draft{}, meta, apperr.Internal(fmt.Errorf("failed to render extractor prompt: %w", err))
	}

	resp, err := e.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return Draft{}, meta, apperr.External("llm", err)
	}
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)

	var draft Draft
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Content)), &draft); err != nil {
		return Draft{}, meta, apperr.External("llm", fmt.Errorf("failed to parse extractor response: %w", err))
	}
	if draft.Empty() {
		return Draft{}, meta, apperr.Validation("no recipe found at %s", sourceURL)
	}
	draft.SourceURL = sourceURL
	return draft, meta, nil
}
