package clipper

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"recipe-box/internal/assistant"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

const maxImportedTags = 10

// ParseHTML reads a page and returns the schema.org Recipe it embeds, if any.
func ParseHTML(r io.Reader, sourceURL string) (*assistant.Draft, bool, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse HTML: %w", err)
	}
	draft, ok := ParseDocument(doc, sourceURL)
	return draft, ok, nil
}

// ParseDocument looks through every JSON-LD block for a Recipe object.
func ParseDocument(doc *goquery.Document, sourceURL string) (*assistant.Draft, bool) {
	var found map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return true
		}
		found = findRecipe(v)
		return found == nil
	})
	if found == nil {
		return nil, false
	}

	draft := draftFromJSONLD(found)
	if draft.Empty() {
		return nil, false
	}
	draft.SourceURL = sourceURL
	if draft.ImageURL == "" {
		draft.ImageURL, _ = doc.Find(`meta[property="og:image"]`).Attr("content")
	}
	return draft, true
}

func findRecipe(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if m := findRecipe(item); m != nil {
				return m
			}
		}
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return t
		}
		for _, key := range []string{"@graph", "mainEntity", "mainEntityOfPage"} {
			if nested, ok := t[key]; ok {
				if m := findRecipe(nested); m != nil {
					return m
				}
			}
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Recipe" || strings.HasSuffix(t, "/Recipe")
	case []any:
		for _, item := range t {
			if isRecipeType(item) {
				return true
			}
		}
	}
	return false
}

func draftFromJSONLD(m map[string]any) *assistant.Draft {
	d := &assistant.Draft{
		Title:       cleanText(stringOf(m["name"])),
		Description: cleanText(stringOf(m["description"])),
		Servings:    yield(m["recipeYield"]),
		Ingredients: stringList(firstOf(m, "recipeIngredient", "ingredients")),
		Steps:       instructions(m["recipeInstructions"]),
		ImageURL:    imageURL(m["image"]),
	}

	prep, _ := ParseISODuration(stringOf(m["prepTime"]))
	cook, okCook := ParseISODuration(stringOf(m["cookTime"]))
	total, okTotal := ParseISODuration(stringOf(m["totalTime"]))
	if !okCook && okTotal && total > prep {
		cook = total - prep
	}
	d.PrepMinutes, d.CookMinutes = prep, cook

	seen := make(map[string]bool)
	for _, key := range []string{"recipeCategory", "recipeCuisine", "keywords"} {
		for _, tag := range keywords(m[key]) {
			if !seen[tag] && len(d.Tags) < maxImportedTags {
				seen[tag] = true
				d.Tags = append(d.Tags, tag)
			}
		}
	}
	return d
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) > 0 {
			return stringOf(t[0])
		}
	case map[string]any:
		if s, ok := t["@value"]; ok {
			return stringOf(s)
		}
	}
	return ""
}

func cleanText(s string) string {
	s = html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
	return strings.Join(strings.Fields(s), " ")
}

func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, line := range strings.Split(t, "\n") {
			if line = cleanText(line); line != "" {
				out = append(out, line)
			}
		}
	case []any:
		for _, item := range t {
			if s := cleanText(stringOf(item)); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// instructions flattens strings, HowToStep and HowToSection entries.
func instructions(v any) []string {
	switch t := v.(type) {
	case string:
		return stringList(t)
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, instructions(item)...)
		}
		return out
	case map[string]any:
		if items, ok := t["itemListElement"]; ok {
			return instructions(items)
		}
		s := stringOf(t["text"])
		if s == "" {
			s = stringOf(t["name"])
		}
		if s = cleanText(s); s != "" {
			return []string{s}
		}
	}
	return nil
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := imageURL(item); s != "" {
				return s
			}
		}
	case map[string]any:
		if s := stringOf(t["url"]); s != "" {
			return s
		}
		return stringOf(t["contentUrl"])
	}
	return ""
}

func yield(v any) string {
	switch t := v.(type) {
	case []any:
		// Sites often list "4" and "4 servings"; prefer the longer one.
		best := ""
		for _, item := range t {
			if s := cleanText(stringOf(item)); len(s) > len(best) {
				best = s
			}
		}
		return best
	default:
		return cleanText(stringOf(v))
	}
}

func keywords(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			raw = append(raw, strings.Split(stringOf(item), ",")...)
		}
	}
	var out []string
	for _, k := range raw {
		if k = strings.ToLower(cleanText(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// ParseISODuration converts an ISO-8601 duration such as "PT1H30M" into
// whole minutes.
func ParseISODuration(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, false
	}
	num := func(i int) float64 {
		if m[i] == "" {
			return 0
		}
		f, _ := strconv.ParseFloat(m[i], 64)
		return f
	}
	minutes := num(1)*24*60 + num(2)*60 + num(3) + num(4)/60
	return int(math.Round(minutes)), true
}
