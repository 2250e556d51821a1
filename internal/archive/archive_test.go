package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/database"
	"recipe-box/internal/recipe"
)

func sample() []recipe.Recipe {
	cooked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []recipe.Recipe{
		{
			ID: "0f8fad5b-d9cb-469f-a165-70867728950e", UserID: "u1", Title: "Tomato Soup!",
			Steps: database.StringList{"Simmer"}, Tags: database.StringList{"soup"},
			Ingredients:  []recipe.Ingredient{{Quantity: "2", Unit: "can", Name: "tomatoes"}},
			LastCookedAt: &cooked,
			ImageURL:     recipe.UploadedImagePrefix + url.QueryEscape("recipes/u1/0f8fad5b/photo.png"),
		},
		{
			ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", UserID: "u1", Title: "Tomato Soup!",
			Steps: database.StringList{"Chill"}, ImageURL: "https://cdn.example.com/chill.jpg",
		},
	}
}

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(f, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestExportImportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(context.Background(), &buf, sample()))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "recipes/tomato-soup-0f8fad5b.json")
	assert.Contains(t, names, "recipes/tomato-soup-7c9e6679.json")
	assert.Contains(t, names, "manifest.json")

	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		var m Manifest
		require.NoError(t, json.NewDecoder(rc).Decode(&m))
		rc.Close()
		assert.Equal(t, FormatVersion, m.Version)
		assert.Equal(t, 2, m.Count)
	}

	recipes, failed, err := Import(context.Background(), "u1", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, recipes, 2)

	var soup, cold recipe.Recipe
	for _, r := range recipes {
		if len(r.Ingredients) > 0 {
			soup = r
		} else {
			cold = r
		}
	}
	assert.Empty(t, soup.ID, "ids are reassigned on import")
	assert.Equal(t, "u1", soup.UserID)
	assert.Equal(t, sample()[0].ImageURL, soup.ImageURL)
	assert.Equal(t, "tomatoes", soup.Ingredients[0].Name)
	require.NotNil(t, soup.LastCookedAt)
	assert.Equal(t, 2026, soup.LastCookedAt.Year())
	assert.Equal(t, "https://cdn.example.com/chill.jpg", cold.ImageURL)

	// Another account keeps the recipes but not the uploaded photo.
	recipes, failed, err = Import(context.Background(), "u2", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, recipes, 2)
	for _, r := range recipes {
		assert.Equal(t, "u2", r.UserID)
		if len(r.Ingredients) > 0 {
			assert.Empty(t, r.ImageURL)
		} else {
			assert.Equal(t, "https://cdn.example.com/chill.jpg", r.ImageURL)
		}
	}
}

func TestImportMixedEntries(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
		{"@type":"Recipe","name":"Saved Page Pie","recipeIngredient":["3 apples"],"recipeInstructions":"Bake."}
	</script></head></html>`

	zr := buildZip(t, map[string]string{
		"loose.json":            `{"title":"Loose","ingredients":["1 cup rice","2 cups water"],"steps":["Boil"]}`,
		"many.json":             `[{"title":"One","steps":["a"]},{"title":"","steps":["b"]}]`,
		"pages/pie.html":        page,
		"pages/empty.htm":       `<html><body>nothing</body></html>`,
		"broken.json":           `{"title":`,
		".hidden.json":          `{"title":"Hidden"}`,
		"__MACOSX/._loose.json": `junk`,
		"notes.txt":             "ignored",
		"dir/":                  "",
	})

	recipes, failed, err := Import(context.Background(), "u1", zr, zr.Size())
	require.NoError(t, err)

	var titles []string
	for _, r := range recipes {
		titles = append(titles, r.Title)
	}
	assert.ElementsMatch(t, []string{"Loose", "One", "Saved Page Pie"}, titles)

	var failedFiles []string
	for _, f := range failed {
		failedFiles = append(failedFiles, f.File)
	}
	assert.ElementsMatch(t, []string{"many.json", "pages/empty.htm", "broken.json"}, failedFiles)

	for _, r := range recipes {
		if r.Title == "Loose" {
			require.Len(t, r.Ingredients, 2)
			assert.Equal(t, "cup", r.Ingredients[0].Unit)
		}
	}
}

func TestImportLimits(t *testing.T) {
	t.Run("NotZip", func(t *testing.T) {
		r := strings.NewReader("not a zip")
		_, _, err := Import(context.Background(), "u1", r, r.Size())
		require.Error(t, err)
	})

	t.Run("TooManyEntries", func(t *testing.T) {
		files := make(map[string]string, MaxEntries+1)
		for i := 0; i <= MaxEntries; i++ {
			files[fmt.Sprintf("r%d.json", i)] = "{}"
		}
		zr := buildZip(t, files)
		_, _, err := Import(context.Background(), "u1", zr, zr.Size())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "more than")
	})

	t.Run("OversizedEntry", func(t *testing.T) {
		huge := `{"title":"Huge","notes":"` + strings.Repeat("a", MaxEntryBytes) + `"}`
		zr := buildZip(t, map[string]string{
			"huge.json":  huge,
			"small.json": `{"title":"Small"}`,
		})
		recipes, failed, err := Import(context.Background(), "u1", zr, zr.Size())
		require.NoError(t, err)
		require.Len(t, recipes, 1)
		assert.Equal(t, "Small", recipes[0].Title)
		require.Len(t, failed, 1)
		assert.Equal(t, "huge.json", failed[0].File)
		assert.Contains(t, failed[0].Message, "larger than")
	})
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "tomato-soup", Slug("  Tomato   Soup!! "))
	assert.Equal(t, "mom-s-best-chili", Slug("Mom's Best Chili"))
	assert.Equal(t, "recipe", Slug("!!!"))
	assert.LessOrEqual(t, len(Slug(strings.Repeat("abc ", 40))), 60)
}
