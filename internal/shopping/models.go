package shopping

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"recipe-box/internal/apperr"
)

const (
	MaxNameLength = 100
	MaxItems      = 500
)

// List is a user's shopping list.
type List struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	ItemCount int       `db:"item_count" json:"item_count"`
	Items     []Item    `db:"-" json:"items,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Item is one line of a shopping list. RecipeID records the recipe the
// item was first added from.
type Item struct {
	ID        string    `db:"id" json:"id"`
	ListID    string    `db:"list_id" json:"-"`
	Position  int       `db:"position" json:"position"`
	Name      string    `db:"name" json:"name"`
	Quantity  string    `db:"quantity" json:"quantity"`
	Unit      string    `db:"unit" json:"unit"`
	Checked   bool      `db:"checked" json:"checked"`
	RecipeID  *string   `db:"recipe_id" json:"recipe_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ItemPatch holds the fields a client may change on an item.
type ItemPatch struct {
	Name     *string `json:"name"`
	Quantity *string `json:"quantity"`
	Unit     *string `json:"unit"`
	Checked  *bool   `json:"checked"`
}

func validateName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("%s name is required", kind).WithDetail("field", "name")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Validation("%s name must be at most %d characters", kind, MaxNameLength).WithDetail("field", "name")
	}
	return name, nil
}

// Label renders the item as "2 cup flour".
func (it Item) Label() string {
	var parts []string
	for _, p := range []string{it.Quantity, it.Unit, it.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// FormatMarkdown renders the list for a Telegram message: open items as
// bullets, checked items summarised in a count.
func FormatMarkdown(l *List) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%s*\n", markdownEscaper.Replace(l.Name)))

	checked := 0
	for _, it := range l.Items {
		if it.Checked {
			checked++
			continue
		}
		sb.WriteString("• ")
		sb.WriteString(markdownEscaper.Replace(it.Label()))
		sb.WriteString("\n")
	}
	if len(l.Items) == checked {
		sb.WriteString("_Nothing left to buy._\n")
	}
	if checked > 0 {
		sb.WriteString(fmt.Sprintf("_%d checked off_\n", checked))
	}
	return sb.String()
}
