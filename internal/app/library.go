package app

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/archive"
	"recipe-box/internal/assistant"
	"recipe-box/internal/logging"
	"recipe-box/internal/metrics"
	"recipe-box/internal/recipe"
	"recipe-box/internal/user"
)

// ImportURL clips the page at pageURL and saves it as a new recipe.
func (a *App) ImportURL(ctx context.Context, userID, pageURL string) (*recipe.Recipe, error) {
	log := logging.FromContext(ctx).WithField("url", pageURL)

	draft, meta, err := a.clipper.Clip(ctx, pageURL)
	if meta.AgentName != "" {
		if err := a.Usage.RecordMeta(ctx, userID, meta); err != nil {
			log.WithError(err).Warn("failed to record extractor usage")
		}
	}
	if err != nil {
		metrics.RecordImport("url", 0, false)
		return nil, err
	}

	rec := draft.ToRecipe(userID)
	if err := a.Recipes.Create(ctx, rec); err != nil {
		metrics.RecordImport("url", 0, false)
		return nil, err
	}
	metrics.RecordImport("url", 1, true)
	log.WithField("recipe_id", rec.ID).Info("recipe imported from url")
	return rec, nil
}

// ImportZip saves every recipe found in a zip archive. Entries that cannot
// be read or saved are reported and skipped.
func (a *App) ImportZip(ctx context.Context, userID string, r io.ReaderAt, size int64) (*archive.Report, error) {
	found, failed, err := archive.Import(ctx, userID, r, size)
	if err != nil {
		metrics.RecordImport("zip", 0, false)
		return nil, err
	}

	report := &archive.Report{Recipes: []recipe.Recipe{}, Errors: failed}
	if report.Errors == nil {
		report.Errors = []archive.ImportError{}
	}
	for i := range found {
		rec := found[i]
		if err := a.Recipes.Create(ctx, &rec); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report.Errors = append(report.Errors, archive.ImportError{
				File:    rec.Title,
				Message: apperr.From(err).PublicMessage(),
			})
			continue
		}
		report.Recipes = append(report.Recipes, rec)
	}
	report.Imported = len(report.Recipes)

	metrics.RecordImport("zip", report.Imported, report.Imported > 0 || len(report.Errors) == 0)
	logging.FromContext(ctx).WithFields(logrus.Fields{
		"imported": report.Imported,
		"failed":   len(report.Errors),
	}).Info("zip import finished")
	return report, nil
}

// ExportZip writes all of the user's recipes to w as a zip archive.
func (a *App) ExportZip(ctx context.Context, userID string, w io.Writer) error {
	recipes, err := a.allRecipes(ctx, userID)
	if err != nil {
		return err
	}
	if err := archive.Export(ctx, w, recipes); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (a *App) allRecipes(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	var all []recipe.Recipe
	for offset := 0; ; offset += recipe.MaxListLimit {
		page, err := a.Recipes.List(ctx, userID, recipe.ListOptions{
			Limit:           recipe.MaxListLimit,
			Offset:          offset,
			WithIngredients: true,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < recipe.MaxListLimit {
			return all, nil
		}
	}
}

// Generate asks the assistant for a recipe, saves it and returns it with
// the user's remaining monthly generations (-1 when unlimited).
func (a *App) Generate(ctx context.Context, userID string, req assistant.GenerateRequest) (*recipe.Recipe, int, error) {
	if a.generator == nil {
		return nil, 0, apperr.NotConfigured("recipe assistant")
	}
	u, err := a.Users.Get(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	draft, meta, err := a.generator.Generate(ctx, u, req)
	if err != nil {
		metrics.RecordImport("generate", 0, false)
		return nil, 0, err
	}
	// Recorded before saving: the tokens are spent either way and the
	// quota is counted from these rows.
	if err := a.Usage.RecordMeta(ctx, userID, meta); err != nil {
		return nil, 0, err
	}

	rec := draft.ToRecipe(userID)
	if err := a.Recipes.Create(ctx, rec); err != nil {
		metrics.RecordImport("generate", 0, false)
		return nil, 0, err
	}
	metrics.RecordImport("generate", 1, true)

	remaining, err := a.generator.Remaining(ctx, u)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to compute remaining generations")
		remaining = 0
	}
	return rec, remaining, nil
}

// Remaining returns the user's generations left this month, -1 when
// unlimited and 0 when the assistant is not configured.
func (a *App) Remaining(ctx context.Context, u *user.User) (int, error) {
	if a.generator == nil {
		return 0, nil
	}
	return a.generator.Remaining(ctx, u)
}

// DeleteAccount removes the user's uploaded photos, then the user with
// everything else they own.
func (a *App) DeleteAccount(ctx context.Context, userID string) error {
	recipes, err := a.allRecipes(ctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range recipes {
		a.Uploads.Forget(ctx, userID, rec.ImageURL)
	}
	if err := a.Users.Delete(ctx, userID); err != nil {
		return err
	}
	logging.FromContext(ctx).WithField("user_id", userID).Info("account deleted")
	return nil
}
