// Package assistant turns page text or a free-text request into recipe
// drafts with the help of an LLM.
package assistant

import (
	"strings"

	"recipe-box/internal/database"
	"recipe-box/internal/recipe"
)

const (
	ExtractorAgent = "Extractor"
	GeneratorAgent = "Generator"
)

// Draft is a recipe that has not been saved yet. Ingredients are still
// free-text lines.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Servings    string   `json:"servings"`
	PrepMinutes int      `json:"prep_minutes"`
	CookMinutes int      `json:"cook_minutes"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Tags        []string `json:"tags"`
	ImageURL    string   `json:"image_url,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
}

// ToRecipe converts the draft into a recipe owned by userID.
func (d Draft) ToRecipe(userID string) *recipe.Recipe {
	rec := &recipe.Recipe{
		UserID:      userID,
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Servings:    strings.TrimSpace(d.Servings),
		PrepMinutes: max(d.PrepMinutes, 0),
		CookMinutes: max(d.CookMinutes, 0),
		Steps:       database.StringList(d.Steps),
		Tags:        database.StringList(d.Tags),
		SourceURL:   d.SourceURL,
		Ingredients: make([]recipe.Ingredient, 0, len(d.Ingredients)),
	}
	if recipe.IsWebURL(d.ImageURL) {
		rec.ImageURL = d.ImageURL
	}
	for _, line := range d.Ingredients {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec.Ingredients = append(rec.Ingredients, recipe.ParseIngredient(line))
	}
	return rec
}

// Empty reports whether the draft holds no usable recipe.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Title) == "" || (len(d.Ingredients) == 0 && len(d.Steps) == 0)
}
