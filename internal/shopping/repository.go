package shopping

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
	"recipe-box/internal/recipe"
)

const itemColumns = `id, list_id, position, name, quantity, unit, checked, recipe_id, created_at`

// Repository handles persistence of shopping lists.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateList creates an empty list.
func (r *Repository) CreateList(ctx context.Context, userID, name string) (*List, error) {
	name, err := validateName("list", name)
	if err != nil {
		return nil, err
	}
	now := database.Now()
	l := &List{ID: uuid.NewString(), UserID: userID, Name: name, Items: []Item{}, CreatedAt: now, UpdatedAt: now}

	if _, err := r.db.NamedExecContext(ctx, `
		INSERT INTO shopping_lists (id, user_id, name, created_at, updated_at)
		VALUES (:id, :user_id, :name, :created_at, :updated_at)`, l); err != nil {
		return nil, apperr.Database("create shopping list", err)
	}
	return l, nil
}

// GetList retrieves a user's list with its items in order.
func (r *Repository) GetList(ctx context.Context, userID, id string) (*List, error) {
	var l List
	err := r.db.GetContext(ctx, &l, r.db.Rebind(`
		SELECT l.id, l.user_id, l.name, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM shopping_items i WHERE i.list_id = l.id) AS item_count
		FROM shopping_lists l WHERE l.id = ? AND l.user_id = ?`), id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("shopping list", id)
		}
		return nil, apperr.Database("get shopping list", err)
	}

	l.Items = []Item{}
	if err := r.db.SelectContext(ctx, &l.Items, r.db.Rebind(
		`SELECT `+itemColumns+` FROM shopping_items WHERE list_id = ? ORDER BY position, id`), id); err != nil {
		return nil, apperr.Database("list shopping items", err)
	}
	return &l, nil
}

// ListLists returns a user's lists, most recently updated first, without items.
func (r *Repository) ListLists(ctx context.Context, userID string) ([]List, error) {
	lists := []List{}
	err := r.db.SelectContext(ctx, &lists, r.db.Rebind(`
		SELECT l.id, l.user_id, l.name, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM shopping_items i WHERE i.list_id = l.id) AS item_count
		FROM shopping_lists l WHERE l.user_id = ?
		ORDER BY l.updated_at DESC, l.id`), userID)
	if err != nil {
		return nil, apperr.Database("list shopping lists", err)
	}
	return lists, nil
}

// RenameList changes a list's name.
func (r *Repository) RenameList(ctx context.Context, userID, id, name string) error {
	name, err := validateName("list", name)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE shopping_lists SET name = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		name, database.Now(), id, userID)
	return affected(res, err, "rename shopping list", "shopping list", id)
}

// DeleteList removes a list and its items.
func (r *Repository) DeleteList(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM shopping_lists WHERE id = ? AND user_id = ?`), id, userID)
	return affected(res, err, "delete shopping list", "shopping list", id)
}

// AddItem appends an item to the end of a list.
func (r *Repository) AddItem(ctx context.Context, userID, listID string, it Item) (*Item, error) {
	name, err := validateName("item", it.Name)
	if err != nil {
		return nil, err
	}
	it.Name = name
	it.Quantity = strings.TrimSpace(it.Quantity)
	it.Unit = strings.TrimSpace(it.Unit)

	err = r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		items, err := lockList(ctx, tx, userID, listID)
		if err != nil {
			return err
		}
		if len(items) >= MaxItems {
			return apperr.Validation("a list can have at most %d items", MaxItems)
		}
		it.Position = nextPosition(items)
		if err := insertItem(ctx, tx, listID, &it); err != nil {
			return err
		}
		return touchList(ctx, tx, listID)
	})
	if err != nil {
		return nil, txError(err, "add shopping item")
	}
	return &it, nil
}

// UpdateItem applies a patch to one item.
func (r *Repository) UpdateItem(ctx context.Context, userID, listID, itemID string, p ItemPatch) (*Item, error) {
	var it Item
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockList(ctx, tx, userID, listID); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &it, tx.Rebind(`SELECT `+itemColumns+` FROM shopping_items WHERE id = ? AND list_id = ?`), itemID, listID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("shopping item", itemID)
		}
		if err != nil {
			return err
		}

		if p.Name != nil {
			name, err := validateName("item", *p.Name)
			if err != nil {
				return err
			}
			it.Name = name
		}
		if p.Quantity != nil {
			it.Quantity = strings.TrimSpace(*p.Quantity)
		}
		if p.Unit != nil {
			it.Unit = strings.TrimSpace(*p.Unit)
		}
		if p.Checked != nil {
			it.Checked = *p.Checked
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE shopping_items SET name = ?, quantity = ?, unit = ?, checked = ? WHERE id = ?`),
			it.Name, it.Quantity, it.Unit, it.Checked, it.ID); err != nil {
			return err
		}
		return touchList(ctx, tx, listID)
	})
	if err != nil {
		return nil, txError(err, "update shopping item")
	}
	return &it, nil
}

// DeleteItem removes one item.
func (r *Repository) DeleteItem(ctx context.Context, userID, listID, itemID string) error {
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockList(ctx, tx, userID, listID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM shopping_items WHERE id = ? AND list_id = ?`), itemID, listID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("shopping item", itemID)
		}
		return touchList(ctx, tx, listID)
	})
	return txError(err, "delete shopping item")
}

// ClearChecked removes every checked item and returns how many went.
func (r *Repository) ClearChecked(ctx context.Context, userID, listID string) (int64, error) {
	var n int64
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockList(ctx, tx, userID, listID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM shopping_items WHERE list_id = ? AND checked = ?`), listID, true)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return touchList(ctx, tx, listID)
	})
	if err != nil {
		return 0, txError(err, "clear checked items")
	}
	return n, nil
}

// AddRecipe adds a recipe's ingredients to the list. An ingredient with
// the same name and unit as an open item is merged into it, summing the
// quantities when both are numeric; anything else is appended.
func (r *Repository) AddRecipe(ctx context.Context, userID, listID string, rec *recipe.Recipe) (*List, error) {
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		items, err := lockList(ctx, tx, userID, listID)
		if err != nil {
			return err
		}

		merged := Merge(items, rec)
		if len(items)+len(merged.Added) > MaxItems {
			return apperr.Validation("a list can have at most %d items", MaxItems)
		}
		for _, it := range merged.Updated {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE shopping_items SET quantity = ? WHERE id = ?`), it.Quantity, it.ID); err != nil {
				return err
			}
		}
		for i := range merged.Added {
			if err := insertItem(ctx, tx, listID, &merged.Added[i]); err != nil {
				return err
			}
		}
		return touchList(ctx, tx, listID)
	})
	if err != nil {
		return nil, txError(err, "add recipe to shopping list")
	}
	return r.GetList(ctx, userID, listID)
}

// MergeResult is the outcome of merging a recipe into existing items.
type MergeResult struct {
	Updated []Item
	Added   []Item
}

// Merge computes how a recipe's ingredients fold into items.
func Merge(items []Item, rec *recipe.Recipe) MergeResult {
	var res MergeResult
	open := make(map[string]*Item)
	updated := make(map[string]bool)

	working := make([]Item, len(items))
	copy(working, items)
	for i := range working {
		if !working[i].Checked {
			open[mergeKey(working[i].Name, working[i].Unit)] = &working[i]
		}
	}

	next := nextPosition(items)
	recipeID := rec.ID
	var added []*Item
	for _, in := range rec.Ingredients {
		if strings.TrimSpace(in.Name) == "" {
			continue
		}
		key := mergeKey(in.Name, in.Unit)
		if existing, ok := open[key]; ok {
			if qty, ok := sumQuantities(existing.Quantity, in.Quantity); ok {
				if qty != existing.Quantity {
					existing.Quantity = qty
					if existing.ID != "" {
						updated[existing.ID] = true
					}
				}
				continue
			}
		}

		it := &Item{Name: in.Name, Quantity: in.Quantity, Unit: in.Unit, Position: next}
		if recipeID != "" {
			it.RecipeID = &recipeID
		}
		next++
		added = append(added, it)
		open[key] = it
	}

	for i := range working {
		if updated[working[i].ID] {
			res.Updated = append(res.Updated, working[i])
		}
	}
	for _, it := range added {
		res.Added = append(res.Added, *it)
	}
	return res
}

func mergeKey(name, unit string) string {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if len(n) > 3 && strings.HasSuffix(n, "s") && !strings.HasSuffix(n, "ss") {
		n = n[:len(n)-1]
	}
	return n + "|" + strings.ToLower(strings.TrimSpace(unit))
}

// sumQuantities adds two quantities. Two empty quantities merge to empty.
func sumQuantities(a, b string) (string, bool) {
	if a == "" && b == "" {
		return "", true
	}
	x, okA := recipe.ParseQuantity(a)
	y, okB := recipe.ParseQuantity(b)
	if !okA || !okB {
		return "", false
	}
	return recipe.FormatQuantity(x + y), true
}

func lockList(ctx context.Context, tx *sqlx.Tx, userID, listID string) ([]Item, error) {
	var id string
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM shopping_lists WHERE id = ? AND user_id = ?`), listID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("shopping list", listID)
	}
	if err != nil {
		return nil, err
	}
	items := []Item{}
	err = tx.SelectContext(ctx, &items, tx.Rebind(`SELECT `+itemColumns+` FROM shopping_items WHERE list_id = ? ORDER BY position, id`), listID)
	return items, err
}

func nextPosition(items []Item) int {
	next := 0
	for _, it := range items {
		if it.Position >= next {
			next = it.Position + 1
		}
	}
	return next
}

func insertItem(ctx context.Context, tx *sqlx.Tx, listID string, it *Item) error {
	it.ID = uuid.NewString()
	it.ListID = listID
	it.CreatedAt = database.Now()
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO shopping_items (`+itemColumns+`)
		VALUES (:id, :list_id, :position, :name, :quantity, :unit, :checked, :recipe_id, :created_at)`, it)
	return err
}

func touchList(ctx context.Context, tx *sqlx.Tx, listID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE shopping_lists SET updated_at = ? WHERE id = ?`), database.Now(), listID)
	return err
}

func txError(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Database(op, err)
}

func affected(res sql.Result, err error, op, resource, id string) error {
	if err != nil {
		return apperr.Database(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}
