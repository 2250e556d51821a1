// Package recipe holds recipes, their ingredients and the rules both have
// to satisfy before they are stored.
package recipe

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

const (
	MaxTitleLength = 200
	MaxSteps       = 200
	MaxIngredients = 200
	MaxTags        = 30

	// UploadedImagePrefix starts the ImageURL of a photo kept in object
	// storage; the rest is the escaped key "recipes/<userID>/<recipeID>/<file>".
	UploadedImagePrefix = "/image?key="
)

// Recipe is a user's saved recipe.
type Recipe struct {
	ID           string              `db:"id" json:"id"`
	UserID       string              `db:"user_id" json:"-"`
	Title        string              `db:"title" json:"title"`
	Description  string              `db:"description" json:"description"`
	SourceURL    string              `db:"source_url" json:"source_url"`
	ImageURL     string              `db:"image_url" json:"image_url"`
	Servings     string              `db:"servings" json:"servings"`
	PrepMinutes  int                 `db:"prep_minutes" json:"prep_minutes"`
	CookMinutes  int                 `db:"cook_minutes" json:"cook_minutes"`
	Steps        database.StringList `db:"steps" json:"steps"`
	Tags         database.StringList `db:"tags" json:"tags"`
	Notes        string              `db:"notes" json:"notes"`
	Ingredients  []Ingredient        `db:"-" json:"ingredients"`
	LastCookedAt *time.Time          `db:"last_cooked_at" json:"last_cooked_at,omitempty"`
	NudgedAt     *time.Time          `db:"nudged_at" json:"-"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// Ingredient is one line of a recipe's ingredient list. Clients may send
// just Text ("2 cups flour, sifted"), which is parsed into the other fields.
type Ingredient struct {
	ID       string `db:"id" json:"id"`
	RecipeID string `db:"recipe_id" json:"-"`
	Position int    `db:"position" json:"position"`
	Quantity string `db:"quantity" json:"quantity"`
	Unit     string `db:"unit" json:"unit"`
	Name     string `db:"name" json:"name"`
	Note     string `db:"note" json:"note,omitempty"`
	Text     string `db:"-" json:"text,omitempty"`
}

// Normalize trims fields, parses text-only ingredients and drops empty
// steps and duplicate tags.
func (r *Recipe) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	r.Servings = strings.TrimSpace(r.Servings)

	steps := make(database.StringList, 0, len(r.Steps))
	for _, s := range r.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	r.Steps = steps

	seen := make(map[string]bool)
	tags := make(database.StringList, 0, len(r.Tags))
	for _, t := range r.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	r.Tags = tags

	for i := range r.Ingredients {
		r.Ingredients[i].Normalize()
	}
}

// Normalize fills the structured fields from Text when Name is missing.
func (in *Ingredient) Normalize() {
	if strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Text) != "" {
		parsed := ParseIngredient(in.Text)
		in.Quantity, in.Unit, in.Name, in.Note = parsed.Quantity, parsed.Unit, parsed.Name, parsed.Note
	}
	in.Text = ""
	in.Name = strings.TrimSpace(in.Name)
	in.Quantity = strings.TrimSpace(in.Quantity)
	in.Unit = strings.TrimSpace(in.Unit)
	in.Note = strings.TrimSpace(in.Note)
}

// Validate checks the recipe can be stored.
func (r *Recipe) Validate() error {
	if r.Title == "" {
		return apperr.Validation("title is required").WithDetail("field", "title")
	}
	if utf8.RuneCountInString(r.Title) > MaxTitleLength {
		return apperr.Validation("title must be at most %d characters", MaxTitleLength).WithDetail("field", "title")
	}
	if len(r.Steps) > MaxSteps {
		return apperr.Validation("a recipe can have at most %d steps", MaxSteps).WithDetail("field", "steps")
	}
	if len(r.Ingredients) > MaxIngredients {
		return apperr.Validation("a recipe can have at most %d ingredients", MaxIngredients).WithDetail("field", "ingredients")
	}
	if len(r.Tags) > MaxTags {
		return apperr.Validation("a recipe can have at most %d tags", MaxTags).WithDetail("field", "tags")
	}
	if r.PrepMinutes < 0 || r.CookMinutes < 0 {
		return apperr.Validation("minutes cannot be negative").WithDetail("field", "prep_minutes")
	}
	if r.SourceURL != "" && !IsWebURL(r.SourceURL) {
		return apperr.Validation("source_url must be an absolute http(s) URL").WithDetail("field", "source_url")
	}
	if r.ImageURL != "" && !IsWebURL(r.ImageURL) {
		if _, owner, ok := UploadedImageKey(r.ImageURL); !ok || owner != r.UserID {
			return apperr.Validation("image_url must be an http(s) URL or one of your uploads").WithDetail("field", "image_url")
		}
	}
	for i, in := range r.Ingredients {
		if err := in.Validate(); err != nil {
			return err.WithDetail("index", i)
		}
	}
	return nil
}

// Validate checks a single ingredient.
func (in *Ingredient) Validate() *apperr.Error {
	if in.Name == "" {
		return apperr.Validation("ingredient name is required").WithDetail("field", "ingredients")
	}
	if utf8.RuneCountInString(in.Name) > MaxTitleLength {
		return apperr.Validation("ingredient name is too long").WithDetail("field", "ingredients")
	}
	return nil
}

// UploadedImageKey returns the object key behind an uploaded ImageURL and
// the user it was uploaded for.
func UploadedImageKey(imageURL string) (key, owner string, ok bool) {
	if !strings.HasPrefix(imageURL, UploadedImagePrefix) {
		return "", "", false
	}
	key, err := url.QueryUnescape(strings.TrimPrefix(imageURL, UploadedImagePrefix))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "recipes" {
		return "", "", false
	}
	for _, p := range parts[1:] {
		if p == "" || p == "." || p == ".." {
			return "", "", false
		}
	}
	return key, parts[1], true
}

// IsWebURL reports whether s is an absolute http or https URL.
func IsWebURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
