// Package archive exports a user's recipes to a zip file and imports them
// back, along with loose JSON and saved HTML pages.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/clipper"
	"recipe-box/internal/recipe"
)

const (
	FormatVersion = 1
	MaxEntries    = 500
	MaxEntryBytes = 10 << 20
	manifestName  = "manifest.json"
)

// Manifest describes an export.
type Manifest struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
}

// ImportError reports one entry that could not be imported.
type ImportError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Report summarizes a zip import once the recipes are saved.
type Report struct {
	Imported int             `json:"imported"`
	Recipes  []recipe.Recipe `json:"recipes"`
	Errors   []ImportError   `json:"errors"`
}

// Export writes recipes as recipes/<slug>-<id8>.json plus a manifest.
func Export(ctx context.Context, w io.Writer, recipes []recipe.Recipe) error {
	zw := zip.NewWriter(w)

	used := make(map[string]bool, len(recipes))
	for _, rec := range recipes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal recipe: %w", err)
		}

		name := entryName(rec, used)
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: rec.UpdatedAt})
		if err != nil {
			return fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}

	manifest, err := json.MarshalIndent(Manifest{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(recipes),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	f, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := f.Write(manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return zw.Close()
}

func entryName(rec recipe.Recipe, used map[string]bool) string {
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	base := Slug(rec.Title)
	if id != "" {
		base += "-" + id
	}
	name := "recipes/" + base + ".json"
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("recipes/%s-%d.json", base, i)
	}
	used[name] = true
	return name
}

// Slug makes a title safe for filenames.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 60 {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "recipe"
	}
	return s
}

// Import reads every recipe in the zip on behalf of userID. Entries that
// fail are reported and skipped; the returned recipes belong to userID and
// are normalized and valid. Images that are neither web URLs nor userID's
// own uploads are dropped.
func Import(ctx context.Context, userID string, r io.ReaderAt, size int64) ([]recipe.Recipe, []ImportError, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, apperr.Validation("not a valid zip file")
	}
	if len(zr.File) > MaxEntries {
		return nil, nil, apperr.Validation("zip has more than %d entries", MaxEntries)
	}

	var (
		recipes []recipe.Recipe
		failed  []ImportError
	)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if skip(f) {
			continue
		}

		found, err := readEntry(f)
		if err != nil {
			failed = append(failed, ImportError{File: f.Name, Message: message(err)})
			continue
		}
		for i := range found {
			rec := found[i]
			rec.UserID = userID
			if !recipe.IsWebURL(rec.ImageURL) {
				if _, owner, ok := recipe.UploadedImageKey(rec.ImageURL); !ok || owner != userID {
					rec.ImageURL = ""
				}
			}
			rec.Normalize()
			if err := rec.Validate(); err != nil {
				failed = append(failed, ImportError{File: f.Name, Message: message(err)})
				continue
			}
			recipes = append(recipes, rec)
		}
	}
	return recipes, failed, nil
}

func skip(f *zip.File) bool {
	if f.FileInfo().IsDir() || path.Base(f.Name) == manifestName {
		return true
	}
	for _, part := range strings.Split(f.Name, "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return true
		}
	}
	switch strings.ToLower(path.Ext(f.Name)) {
	case ".json", ".html", ".htm":
		return false
	}
	return true
}

func readEntry(f *zip.File) ([]recipe.Recipe, error) {
	if f.UncompressedSize64 > MaxEntryBytes {
		return nil, fmt.Errorf("entry is larger than %d bytes", MaxEntryBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry: %w", err)
	}
	defer rc.Close()

	// The header size can lie; enforce the limit on what is actually read.
	data, err := io.ReadAll(io.LimitReader(rc, MaxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	if len(data) > MaxEntryBytes {
		return nil, fmt.Errorf("entry is larger than %d bytes", MaxEntryBytes)
	}

	if strings.EqualFold(path.Ext(f.Name), ".json") {
		return decodeJSON(data)
	}

	draft, ok, err := clipper.ParseHTML(bytes.NewReader(data), "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no recipe found in page")
	}
	return []recipe.Recipe{*draft.ToRecipe("")}, nil
}

// importedRecipe accepts ingredients either as objects or as text lines.
type importedRecipe struct {
	recipe.Recipe
	Ingredients json.RawMessage `json:"ingredients"`
}

func decodeJSON(data []byte) ([]recipe.Recipe, error) {
	data = bytes.TrimSpace(data)
	var items []importedRecipe
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("invalid recipe JSON: %w", err)
		}
	} else {
		var one importedRecipe
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("invalid recipe JSON: %w", err)
		}
		items = []importedRecipe{one}
	}

	out := make([]recipe.Recipe, 0, len(items))
	for _, it := range items {
		rec := it.Recipe
		rec.ID, rec.UserID, rec.NudgedAt = "", "", nil
		ingredients, err := decodeIngredients(it.Ingredients)
		if err != nil {
			return nil, err
		}
		rec.Ingredients = ingredients
		out = append(out, rec)
	}
	return out, nil
}

func decodeIngredients(raw json.RawMessage) ([]recipe.Ingredient, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []recipe.Ingredient{}, nil
	}
	var structured []recipe.Ingredient
	if err := json.Unmarshal(raw, &structured); err == nil {
		for i := range structured {
			structured[i].ID, structured[i].RecipeID = "", ""
		}
		return structured, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("ingredients must be a list of objects or strings")
	}
	out := make([]recipe.Ingredient, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, recipe.ParseIngredient(line))
		}
	}
	return out, nil
}

func message(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
