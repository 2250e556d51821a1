package httpapi

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/assistant"
	"recipe-box/internal/httputil"
	"recipe-box/internal/media"
	"recipe-box/internal/recipe"
)

const (
	// MaxZipBytes bounds a zip import upload.
	MaxZipBytes = 20 << 20
	// multipart framing on top of the file itself
	multipartOverhead = 1 << 20
)

type recipeListResponse struct {
	Recipes []recipe.Recipe `json:"recipes"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (a *api) listRecipes(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", recipe.DefaultListLimit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	limit = min(max(limit, 1), recipe.MaxListLimit)

	q := r.URL.Query()
	recipes, err := a.Recipes.List(r.Context(), userID(r), recipe.ListOptions{
		Query:  q.Get("q"),
		Tag:    q.Get("tag"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if recipes == nil {
		recipes = []recipe.Recipe{}
	}
	httputil.WriteJSON(w, http.StatusOK, recipeListResponse{Recipes: recipes, Limit: limit, Offset: offset})
}

func (a *api) createRecipe(w http.ResponseWriter, r *http.Request) {
	var rec recipe.Recipe
	if err := decode(w, r, &rec); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rec.UserID = userID(r)
	rec.LastCookedAt = nil
	if err := a.Recipes.Create(r.Context(), &rec); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (a *api) getRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Recipes.Get(r.Context(), userID(r), pathVar(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (a *api) updateRecipe(w http.ResponseWriter, r *http.Request) {
	var rec recipe.Recipe
	if err := decode(w, r, &rec); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rec.ID = pathVar(r, "id")
	rec.UserID = userID(r)
	if err := a.Recipes.Update(r.Context(), &rec); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	a.writeRecipe(w, r, rec.ID, http.StatusOK)
}

func (a *api) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := a.Recipes.Get(ctx, userID(r), pathVar(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := a.Recipes.Delete(ctx, rec.UserID, rec.ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	a.Uploads.Forget(ctx, rec.UserID, rec.ImageURL)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) markCooked(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := a.Recipes.MarkCooked(r.Context(), userID(r), id, time.Now()); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	a.writeRecipe(w, r, id, http.StatusOK)
}

func (a *api) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+multipartOverhead)
	part, err := formFile(r, "image")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer part.Close()

	rec, err := a.Uploads.Upload(r.Context(), userID(r), pathVar(r, "id"), part)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (a *api) addIngredient(w http.ResponseWriter, r *http.Request) {
	var in recipe.Ingredient
	if err := decode(w, r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	added, err := a.Recipes.AddIngredient(r.Context(), userID(r), pathVar(r, "id"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, added)
}

func (a *api) updateIngredient(w http.ResponseWriter, r *http.Request) {
	var in recipe.Ingredient
	if err := decode(w, r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	in.ID = pathVar(r, "ingredientID")
	id := pathVar(r, "id")
	if err := a.Recipes.UpdateIngredient(r.Context(), userID(r), id, in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	a.writeRecipe(w, r, id, http.StatusOK)
}

func (a *api) deleteIngredient(w http.ResponseWriter, r *http.Request) {
	err := a.Recipes.DeleteIngredient(r.Context(), userID(r), pathVar(r, "id"), pathVar(r, "ingredientID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importURLRequest struct {
	URL string `json:"url"`
}

func (a *api) importURL(w http.ResponseWriter, r *http.Request) {
	var req importURLRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if !recipe.IsWebURL(req.URL) {
		httputil.WriteError(w, r, apperr.Validation("url must be an absolute http(s) URL").WithDetail("field", "url"))
		return
	}
	rec, err := a.Library.ImportURL(r.Context(), userID(r), req.URL)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// importZip accepts the archive as the raw body or as the "file" field of
// a multipart form.
func (a *api) importZip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxZipBytes+multipartOverhead)

	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		part, err := formFile(r, "file")
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		defer part.Close()
		body = part
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxZipBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = apperr.Validation("zip must not exceed %d bytes", MaxZipBytes)
		} else {
			err = apperr.Validation("failed to read upload: %v", err)
		}
		httputil.WriteError(w, r, err)
		return
	}
	if len(data) > MaxZipBytes {
		httputil.WriteError(w, r, apperr.Validation("zip must not exceed %d bytes", MaxZipBytes))
		return
	}
	if len(data) == 0 {
		httputil.WriteError(w, r, apperr.Validation("zip file is required").WithDetail("field", "file"))
		return
	}

	report, err := a.Library.ImportZip(r.Context(), userID(r), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (a *api) exportRecipes(w http.ResponseWriter, r *http.Request) {
	// Buffered so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := a.Library.ExportZip(r.Context(), userID(r), &buf); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	filename := "recipes-" + time.Now().UTC().Format("2006-01-02") + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

type generateResponse struct {
	Recipe    *recipe.Recipe `json:"recipe"`
	Remaining int            `json:"remaining"`
}

func (a *api) generateRecipe(w http.ResponseWriter, r *http.Request) {
	var req assistant.GenerateRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rec, remaining, err := a.Library.Generate(r.Context(), userID(r), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, generateResponse{Recipe: rec, Remaining: remaining})
}

func (a *api) writeRecipe(w http.ResponseWriter, r *http.Request, id string, status int) {
	rec, err := a.Recipes.Get(r.Context(), userID(r), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, status, rec)
}

// formFile streams the named file field of a multipart request.
func formFile(r *http.Request, field string) (io.ReadCloser, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Validation("expected a multipart/form-data body")
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("%s is required", field).WithDetail("field", field)
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, apperr.Validation("request body must not exceed %d bytes", maxErr.Limit)
			}
			return nil, apperr.Validation("malformed multipart body")
		}
		if part.FormName() == field && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}
