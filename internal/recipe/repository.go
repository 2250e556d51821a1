package recipe

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const recipeColumns = `id, user_id, title, description, source_url, image_url, servings, prep_minutes,
	cook_minutes, steps, tags, notes, last_cooked_at, nudged_at, created_at, updated_at`

const ingredientColumns = `id, recipe_id, position, quantity, unit, name, note`

// ListOptions filters and pages a user's recipes.
type ListOptions struct {
	Query           string
	Tag             string
	Limit           int
	Offset          int
	WithIngredients bool
}

// Repository is a database-backed repository for recipes.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create validates and inserts a recipe with its ingredients. ID,
// timestamps and ingredient positions are assigned here.
func (r *Repository) Create(ctx context.Context, rec *Recipe) error {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return err
	}

	now := database.Now()
	rec.ID = uuid.NewString()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.NudgedAt = nil

	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO recipes (`+recipeColumns+`)
			VALUES (:id, :user_id, :title, :description, :source_url, :image_url, :servings, :prep_minutes,
				:cook_minutes, :steps, :tags, :notes, :last_cooked_at, :nudged_at, :created_at, :updated_at)`, rec); err != nil {
			return err
		}
		return insertIngredients(ctx, tx, rec)
	})
	if err != nil {
		return apperr.Database("create recipe", err)
	}
	return nil
}

func insertIngredients(ctx context.Context, tx *sqlx.Tx, rec *Recipe) error {
	for i := range rec.Ingredients {
		in := &rec.Ingredients[i]
		in.ID = uuid.NewString()
		in.RecipeID = rec.ID
		in.Position = i
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO ingredients (`+ingredientColumns+`)
			VALUES (:id, :recipe_id, :position, :quantity, :unit, :name, :note)`, in); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a user's recipe with its ingredients.
func (r *Repository) Get(ctx context.Context, userID, id string) (*Recipe, error) {
	var rec Recipe
	err := r.db.GetContext(ctx, &rec, r.db.Rebind(`SELECT `+recipeColumns+` FROM recipes WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("recipe", id)
		}
		return nil, apperr.Database("get recipe", err)
	}

	rec.Ingredients = []Ingredient{}
	if err := r.db.SelectContext(ctx, &rec.Ingredients, r.db.Rebind(
		`SELECT `+ingredientColumns+` FROM ingredients WHERE recipe_id = ? ORDER BY position, id`), id); err != nil {
		return nil, apperr.Database("list ingredients", err)
	}
	return &rec, nil
}

// List returns a user's recipes, most recently updated first.
func (r *Repository) List(ctx context.Context, userID string, opts ListOptions) ([]Recipe, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := `SELECT ` + recipeColumns + ` FROM recipes WHERE user_id = ?`
	args := []any{userID}
	if q := strings.TrimSpace(opts.Query); q != "" {
		query += ` AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)`
		like := "%" + strings.ToLower(q) + "%"
		args = append(args, like, like)
	}
	if tag := strings.ToLower(strings.TrimSpace(opts.Tag)); tag != "" {
		// Tags are a JSON array of lowercase strings.
		query += ` AND tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	query += ` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	recipes := []Recipe{}
	if err := r.db.SelectContext(ctx, &recipes, r.db.Rebind(query), args...); err != nil {
		return nil, apperr.Database("list recipes", err)
	}
	if opts.WithIngredients && len(recipes) > 0 {
		if err := r.attachIngredients(ctx, recipes); err != nil {
			return nil, err
		}
	}
	return recipes, nil
}

func (r *Repository) attachIngredients(ctx context.Context, recipes []Recipe) error {
	ids := make([]string, len(recipes))
	byID := make(map[string]*Recipe, len(recipes))
	for i := range recipes {
		ids[i] = recipes[i].ID
		recipes[i].Ingredients = []Ingredient{}
		byID[recipes[i].ID] = &recipes[i]
	}

	query, args, err := sqlx.In(`SELECT `+ingredientColumns+` FROM ingredients WHERE recipe_id IN (?) ORDER BY recipe_id, position, id`, ids)
	if err != nil {
		return apperr.Internal(err)
	}
	var ingredients []Ingredient
	if err := r.db.SelectContext(ctx, &ingredients, r.db.Rebind(query), args...); err != nil {
		return apperr.Database("list ingredients", err)
	}
	for _, in := range ingredients {
		if rec, ok := byID[in.RecipeID]; ok {
			rec.Ingredients = append(rec.Ingredients, in)
		}
	}
	return nil
}

// Update saves the editable fields of a recipe. A nil Ingredients slice
// leaves the stored ingredients alone; any other value replaces them.
func (r *Repository) Update(ctx context.Context, rec *Recipe) error {
	replaceIngredients := rec.Ingredients != nil
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = database.Now()

	var notFound bool
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			UPDATE recipes SET title = :title, description = :description, source_url = :source_url,
				image_url = :image_url, servings = :servings, prep_minutes = :prep_minutes,
				cook_minutes = :cook_minutes, steps = :steps, tags = :tags, notes = :notes, updated_at = :updated_at
			WHERE id = :id AND user_id = :user_id`, rec)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			notFound = true
			return sql.ErrNoRows
		}
		if !replaceIngredients {
			return nil
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ingredients WHERE recipe_id = ?`), rec.ID); err != nil {
			return err
		}
		return insertIngredients(ctx, tx, rec)
	})
	if notFound {
		return apperr.NotFound("recipe", rec.ID)
	}
	if err != nil {
		return apperr.Database("update recipe", err)
	}
	return nil
}

// Delete removes a user's recipe and its ingredients.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	return r.exec(ctx, id, "delete recipe", `DELETE FROM recipes WHERE id = ? AND user_id = ?`, id, userID)
}

// MarkCooked records that the user cooked the recipe.
func (r *Repository) MarkCooked(ctx context.Context, userID, id string, at time.Time) error {
	return r.exec(ctx, id, "mark cooked",
		`UPDATE recipes SET last_cooked_at = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		at.UTC(), database.Now(), id, userID)
}

// SetImage points the recipe at a new image.
func (r *Repository) SetImage(ctx context.Context, userID, id, imageURL string) error {
	return r.exec(ctx, id, "set recipe image",
		`UPDATE recipes SET image_url = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		imageURL, database.Now(), id, userID)
}

// CountByUser returns the number of recipes a user has saved.
func (r *Repository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM recipes WHERE user_id = ?`), userID); err != nil {
		return 0, apperr.Database("count recipes", err)
	}
	return n, nil
}

// ListNudgeCandidates returns recipes saved before the cutoff that were
// never cooked nor nudged, oldest first.
func (r *Repository) ListNudgeCandidates(ctx context.Context, before time.Time, limit int) ([]Recipe, error) {
	recipes := []Recipe{}
	err := r.db.SelectContext(ctx, &recipes, r.db.Rebind(`
		SELECT `+recipeColumns+` FROM recipes
		WHERE last_cooked_at IS NULL AND nudged_at IS NULL AND created_at <= ?
		ORDER BY created_at, id LIMIT ?`), before.UTC(), limit)
	if err != nil {
		return nil, apperr.Database("list nudge candidates", err)
	}
	return recipes, nil
}

// MarkNudged flags a recipe so it is not nudged again.
func (r *Repository) MarkNudged(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id, "mark nudged", `UPDATE recipes SET nudged_at = ? WHERE id = ?`, at.UTC(), id)
}

// AddIngredient appends an ingredient to a user's recipe.
func (r *Repository) AddIngredient(ctx context.Context, userID, recipeID string, in Ingredient) (*Ingredient, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := ownRecipe(ctx, tx, userID, recipeID); err != nil {
			return err
		}
		var next int
		if err := tx.GetContext(ctx, &next, tx.Rebind(
			`SELECT COALESCE(MAX(position), -1) + 1 FROM ingredients WHERE recipe_id = ?`), recipeID); err != nil {
			return err
		}
		in.ID = uuid.NewString()
		in.RecipeID = recipeID
		in.Position = next
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO ingredients (`+ingredientColumns+`)
			VALUES (:id, :recipe_id, :position, :quantity, :unit, :name, :note)`, &in); err != nil {
			return err
		}
		return touch(ctx, tx, recipeID)
	})
	if err != nil {
		return nil, ingredientError(err, "add ingredient")
	}
	return &in, nil
}

// UpdateIngredient replaces the text fields of one ingredient.
func (r *Repository) UpdateIngredient(ctx context.Context, userID, recipeID string, in Ingredient) error {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := ownRecipe(ctx, tx, userID, recipeID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE ingredients SET quantity = ?, unit = ?, name = ?, note = ? WHERE id = ? AND recipe_id = ?`),
			in.Quantity, in.Unit, in.Name, in.Note, in.ID, recipeID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("ingredient", in.ID)
		}
		return touch(ctx, tx, recipeID)
	})
	return ingredientError(err, "update ingredient")
}

// DeleteIngredient removes one ingredient from a user's recipe.
func (r *Repository) DeleteIngredient(ctx context.Context, userID, recipeID, ingredientID string) error {
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := ownRecipe(ctx, tx, userID, recipeID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ingredients WHERE id = ? AND recipe_id = ?`), ingredientID, recipeID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("ingredient", ingredientID)
		}
		return touch(ctx, tx, recipeID)
	})
	return ingredientError(err, "delete ingredient")
}

func ownRecipe(ctx context.Context, tx *sqlx.Tx, userID, recipeID string) error {
	var id string
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM recipes WHERE id = ? AND user_id = ?`), recipeID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("recipe", recipeID)
	}
	return err
}

func touch(ctx context.Context, tx *sqlx.Tx, recipeID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE recipes SET updated_at = ? WHERE id = ?`), database.Now(), recipeID)
	return err
}

func ingredientError(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Database(op, err)
}

func (r *Repository) exec(ctx context.Context, id, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return apperr.Database(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("recipe", id)
	}
	return nil
}
