package notify

import (
	"context"
	"strings"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

// PushToken is a device registration for push notifications.
type PushToken struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"-"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

var platforms = map[string]bool{"": true, "ios": true, "android": true, "web": true}

// ValidateToken accepts Expo push tokens only.
func ValidateToken(token string) error {
	if !(strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) ||
		!strings.HasSuffix(token, "]") || len(token) > 255 {
		return apperr.Validation("invalid push token").WithDetail("field", "token")
	}
	return nil
}

// TokenRepository stores push tokens.
type TokenRepository struct {
	db *database.DB
}

func NewTokenRepository(db *database.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Register saves a token for userID. A token already registered to
// another account moves to this one, since devices change hands on
// sign-out.
func (r *TokenRepository) Register(ctx context.Context, userID, token, platform string) (*PushToken, error) {
	token = strings.TrimSpace(token)
	if err := ValidateToken(token); err != nil {
		return nil, err
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	if !platforms[platform] {
		return nil, apperr.Validation("unsupported platform %q", platform).WithDetail("field", "platform")
	}

	t := &PushToken{Token: token, UserID: userID, Platform: platform, CreatedAt: database.Now()}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO push_tokens (token, user_id, platform, created_at)
		VALUES (:token, :user_id, :platform, :created_at)
		ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform`, t)
	if err != nil {
		return nil, apperr.Database("register push token", err)
	}
	return t, nil
}

// Unregister removes one of the user's tokens.
func (r *TokenRepository) Unregister(ctx context.Context, userID, token string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM push_tokens WHERE token = ? AND user_id = ?`), token, userID)
	if err != nil {
		return apperr.Database("unregister push token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("push token", token)
	}
	return nil
}

// Delete removes a token regardless of owner. Used for tokens the push
// service reports as gone.
func (r *TokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM push_tokens WHERE token = ?`), token); err != nil {
		return apperr.Database("delete push token", err)
	}
	return nil
}

// ListForUser returns the user's tokens, oldest first.
func (r *TokenRepository) ListForUser(ctx context.Context, userID string) ([]PushToken, error) {
	tokens := []PushToken{}
	err := r.db.SelectContext(ctx, &tokens, r.db.Rebind(`
		SELECT token, user_id, platform, created_at FROM push_tokens
		WHERE user_id = ? ORDER BY created_at, token`), userID)
	if err != nil {
		return nil, apperr.Database("list push tokens", err)
	}
	return tokens, nil
}
