package nudge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
	"recipe-box/internal/database/dbtest"
	"recipe-box/internal/logging"
	"recipe-box/internal/notify"
	"recipe-box/internal/recipe"
	"recipe-box/internal/user"
)

type fakeRecipes struct {
	candidates []recipe.Recipe
	before     time.Time
	limit      int
	nudged     []string
	err        error
}

func (f *fakeRecipes) ListNudgeCandidates(ctx context.Context, before time.Time, limit int) ([]recipe.Recipe, error) {
	f.before, f.limit = before, limit
	return f.candidates, f.err
}

func (f *fakeRecipes) MarkNudged(ctx context.Context, id string, at time.Time) error {
	f.nudged = append(f.nudged, id)
	return nil
}

type fakeUsers map[string]*user.User

func (f fakeUsers) Get(ctx context.Context, id string) (*user.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user", id)
}

type fakeNotifier struct {
	sent   []string
	failOn string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, u *user.User, msg notify.Message) error {
	if msg.Data["recipe_id"] == f.failOn {
		return errors.New("push service unavailable")
	}
	f.sent = append(f.sent, u.ID+":"+msg.Title)
	return nil
}

func TestJob_Run(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	recipes := &fakeRecipes{candidates: []recipe.Recipe{
		{ID: "r1", UserID: "alice", Title: "Chili", CreatedAt: now.AddDate(0, 0, -4)},
		{ID: "r2", UserID: "ghost", Title: "Soup", CreatedAt: now.AddDate(0, 0, -4)},
		{ID: "r3", UserID: "alice", Title: "Pie", CreatedAt: now.AddDate(0, 0, -5)},
		{ID: "r4", UserID: "bob", Title: "Tacos", CreatedAt: now.AddDate(0, 0, -6)},
	}}
	users := fakeUsers{"alice": {ID: "alice"}, "bob": {ID: "bob"}}
	notifier := &fakeNotifier{failOn: "r3"}

	job := NewJob(recipes, users, notifier, 72*time.Hour, 0, logging.Discard())
	job.now = func() time.Time { return now }

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 4, Sent: 2, Failed: 2}, res)
	assert.Equal(t, now.Add(-72*time.Hour), recipes.before)
	assert.Equal(t, DefaultBatchSize, recipes.limit)
	assert.Equal(t, []string{"alice:Ready to cook Chili?", "bob:Ready to cook Tacos?"}, notifier.sent)
	assert.Equal(t, []string{"r1", "r4"}, recipes.nudged, "failed rows stay eligible")
}

func TestJob_RunListError(t *testing.T) {
	job := NewJob(&fakeRecipes{err: errors.New("db down")}, fakeUsers{}, &fakeNotifier{}, time.Hour, 10, logging.Discard())
	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestJob_RunCancelled(t *testing.T) {
	recipes := &fakeRecipes{candidates: []recipe.Recipe{{ID: "r1", UserID: "alice"}}}
	job := NewJob(recipes, fakeUsers{"alice": {ID: "alice"}}, &fakeNotifier{}, time.Hour, 10, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Candidates)
	assert.Empty(t, recipes.nudged)
}

func TestMessage(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	msg := Message(recipe.Recipe{ID: "r1", Title: "Chili", CreatedAt: now.AddDate(0, 0, -3)}, now)
	assert.Equal(t, "Ready to cook Chili?", msg.Title)
	assert.Equal(t, "You saved it 3 days ago. Tonight could be the night.", msg.Body)
	assert.Equal(t, "r1", msg.Data["recipe_id"])

	msg = Message(recipe.Recipe{Title: "Pie", CreatedAt: now.Add(-30 * time.Hour)}, now)
	assert.Equal(t, "You saved it yesterday. Tonight could be the night.", msg.Body)
}

func TestJob_WithRepositories(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "alice", "alice@example.com")
	recipes := recipe.NewRepository(db)

	old := &recipe.Recipe{UserID: "alice", Title: "Old favourite"}
	require.NoError(t, recipes.Create(ctx, old))
	fresh := &recipe.Recipe{UserID: "alice", Title: "New idea"}
	require.NoError(t, recipes.Create(ctx, fresh))

	notifier := &fakeNotifier{}
	job := NewJob(recipes, user.NewRepository(db), notifier, 72*time.Hour, 10, logging.Discard())
	job.now = func() time.Time { return database.Now().Add(24 * time.Hour) }

	// Nothing is old enough yet.
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)

	job.now = func() time.Time { return database.Now().Add(96 * time.Hour) }
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 2, Sent: 2}, res)

	// Nudged recipes are not picked up again.
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
	assert.Len(t, notifier.sent, 2)
}
