package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database/dbtest"
)

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "alice", "alice@example.com")
	dbtest.SeedUser(t, db, "bob", "bob@example.com")
	repo := NewTokenRepository(db)

	const token = "ExponentPushToken[abc123]"
	_, err := repo.Register(ctx, "alice", token, "iOS")
	require.NoError(t, err)
	_, err = repo.Register(ctx, "alice", "ExpoPushToken[def]", "android")
	require.NoError(t, err)

	tokens, err := repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	platforms := map[string]string{}
	for _, tk := range tokens {
		platforms[tk.Token] = tk.Platform
	}
	assert.Equal(t, "ios", platforms[token])

	// Registering the same device under another account moves it.
	_, err = repo.Register(ctx, "bob", token, "ios")
	require.NoError(t, err)
	tokens, err = repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	err = repo.Unregister(ctx, "alice", token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	require.NoError(t, repo.Unregister(ctx, "bob", token))

	require.NoError(t, repo.Delete(ctx, "ExpoPushToken[def]"))
	tokens, err = repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestTokenRepository_Validation(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "alice", "alice@example.com")
	repo := NewTokenRepository(db)

	for _, tok := range []string{"", "abc", "ExponentPushToken[abc", "fcm:xyz"} {
		_, err := repo.Register(ctx, "alice", tok, "ios")
		assert.True(t, apperr.Is(err, apperr.KindValidation), tok)
	}
	_, err := repo.Register(ctx, "alice", "ExponentPushToken[x]", "blackberry")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
