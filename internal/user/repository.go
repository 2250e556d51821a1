package user

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

const userColumns = `id, email, name, avatar_url, plan, stripe_customer_id, subscription_id,
	subscription_status, current_period_end, telegram_chat_id, created_at, updated_at`

// Repository provides access to users and their OAuth links.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new user repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// UpsertFromOAuth returns the user linked to the identity. An unknown
// identity is linked to the user with the same email, or to a new user.
func (r *Repository) UpsertFromOAuth(ctx context.Context, id Identity) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return nil, apperr.Validation("%s account has no email address", id.Provider)
	}
	if id.ProviderUserID == "" {
		return nil, apperr.Validation("%s account has no id", id.Provider)
	}

	var u User
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		now := database.Now()

		var userID string
		err := tx.GetContext(ctx, &userID, tx.Rebind(
			`SELECT user_id FROM oauth_accounts WHERE provider = ? AND provider_user_id = ?`),
			id.Provider, id.ProviderUserID)
		switch {
		case err == nil:
			// Known identity: refresh the profile.
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`),
				id.Name, id.AvatarURL, now, userID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			err = tx.GetContext(ctx, &userID, tx.Rebind(`SELECT id FROM users WHERE email = ?`), email)
			if errors.Is(err, sql.ErrNoRows) {
				userID = uuid.NewString()
				if _, err := tx.ExecContext(ctx, tx.Rebind(
					`INSERT INTO users (id, email, name, avatar_url, plan, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`),
					userID, email, id.Name, id.AvatarURL, PlanFree, now, now); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO oauth_accounts (provider, provider_user_id, user_id, created_at) VALUES (?, ?, ?, ?)`),
				id.Provider, id.ProviderUserID, userID, now); err != nil {
				return err
			}
		default:
			return err
		}

		return tx.GetContext(ctx, &u, tx.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID)
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("account is already linked")
		}
		return nil, apperr.Database("upsert user", err)
	}
	return &u, nil
}

// Get retrieves a user by ID.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByStripeCustomer retrieves the user a Stripe customer belongs to.
func (r *Repository) GetByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	return r.getBy(ctx, "stripe_customer_id", customerID)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user", value)
		}
		return nil, apperr.Database("get user", err)
	}
	return &u, nil
}

// SetStripeCustomer links a Stripe customer to the user.
func (r *Repository) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	return r.update(ctx, userID, "set stripe customer",
		`UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, database.Now(), userID)
}

// UpdateSubscription stores the subscription state and derives the plan
// from its status.
func (r *Repository) UpdateSubscription(ctx context.Context, userID string, s SubscriptionUpdate) error {
	return r.update(ctx, userID, "update subscription",
		`UPDATE users SET subscription_id = ?, subscription_status = ?, current_period_end = ?, plan = ?, updated_at = ?
		 WHERE id = ?`,
		s.SubscriptionID, s.Status, s.CurrentPeriodEnd, PlanFor(s.Status), database.Now(), userID)
}

// SetTelegramChat links (or with nil, unlinks) a Telegram chat.
func (r *Repository) SetTelegramChat(ctx context.Context, userID string, chatID *int64) error {
	return r.update(ctx, userID, "set telegram chat",
		`UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`,
		chatID, database.Now(), userID)
}

// LinkTelegramChat moves a chat to userID, unlinking whoever held it.
func (r *Repository) LinkTelegramChat(ctx context.Context, userID string, chatID int64) error {
	notFound := apperr.NotFound("user", userID)
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		now := database.Now()
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET telegram_chat_id = NULL, updated_at = ? WHERE telegram_chat_id = ? AND id <> ?`),
			now, chatID, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`), chatID, now, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notFound):
		return notFound
	default:
		return apperr.Database("link telegram chat", err)
	}
}

// GetByTelegramChat retrieves the user a Telegram chat is linked to.
func (r *Repository) GetByTelegramChat(ctx context.Context, chatID int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE telegram_chat_id = ?`), chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user", strconv.FormatInt(chatID, 10))
		}
		return nil, apperr.Database("get user by telegram chat", err)
	}
	return &u, nil
}

// Delete removes the user; owned rows go with it through cascades.
func (r *Repository) Delete(ctx context.Context, userID string) error {
	return r.update(ctx, userID, "delete user", `DELETE FROM users WHERE id = ?`, userID)
}

func (r *Repository) update(ctx context.Context, userID, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("%s: value already in use", op)
		}
		return apperr.Database(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user", userID)
	}
	return nil
}
