// Package nudge reminds users about recipes they saved but never cooked.
package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/database"
	"recipe-box/internal/metrics"
	"recipe-box/internal/notify"
	"recipe-box/internal/recipe"
	"recipe-box/internal/user"
)

const DefaultBatchSize = 200

// RecipeStore is the slice of recipe.Repository the job uses.
type RecipeStore interface {
	ListNudgeCandidates(ctx context.Context, before time.Time, limit int) ([]recipe.Recipe, error)
	MarkNudged(ctx context.Context, id string, at time.Time) error
}

type UserStore interface {
	Get(ctx context.Context, id string) (*user.User, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, u *user.User, msg notify.Message) error
}

// Result summarises one run.
type Result struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Job sends one "ready to cook?" notification per stale recipe.
type Job struct {
	recipes   RecipeStore
	users     UserStore
	notifier  Notifier
	after     time.Duration
	batchSize int
	now       func() time.Time
	log       *logrus.Entry
}

// NewJob creates a job nudging recipes saved more than after ago.
func NewJob(recipes RecipeStore, users UserStore, notifier Notifier, after time.Duration, batchSize int, log *logrus.Logger) *Job {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Job{
		recipes:   recipes,
		users:     users,
		notifier:  notifier,
		after:     after,
		batchSize: batchSize,
		now:       database.Now,
		log:       log.WithField("job", "cook_nudge"),
	}
}

// Run processes one batch in source order. A failing row is logged,
// counted and left unflagged so a later run retries it; the run goes on.
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { metrics.RecordNudgeRun(time.Since(start)) }()

	now := j.now()
	candidates, err := j.recipes.ListNudgeCandidates(ctx, now.Add(-j.after), j.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list nudge candidates: %w", err)
	}

	res := Result{Candidates: len(candidates)}
	owners := make(map[string]*user.User)
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.nudge(ctx, rec, owners, now); err != nil {
			res.Failed++
			metrics.RecordNudge(false)
			j.log.WithError(err).WithFields(logrus.Fields{"recipe_id": rec.ID, "user_id": rec.UserID}).Warn("cook nudge failed")
			continue
		}
		res.Sent++
		metrics.RecordNudge(true)
	}

	j.log.WithFields(logrus.Fields{
		"candidates": res.Candidates,
		"sent":       res.Sent,
		"failed":     res.Failed,
		"duration":   time.Since(start).String(),
	}).Info("cook nudge run finished")
	return res, nil
}

func (j *Job) nudge(ctx context.Context, rec recipe.Recipe, owners map[string]*user.User, now time.Time) error {
	owner, ok := owners[rec.UserID]
	if !ok {
		u, err := j.users.Get(ctx, rec.UserID)
		if err != nil {
			return fmt.Errorf("failed to load owner: %w", err)
		}
		owners[rec.UserID] = u
		owner = u
	}

	if err := j.notifier.NotifyUser(ctx, owner, Message(rec, now)); err != nil {
		return err
	}
	return j.recipes.MarkNudged(ctx, rec.ID, now)
}

// Message builds the notification for rec.
func Message(rec recipe.Recipe, now time.Time) notify.Message {
	days := int(now.Sub(rec.CreatedAt).Hours() / 24)
	body := "You saved it a while ago. Tonight could be the night."
	switch {
	case days == 1:
		body = "You saved it yesterday. Tonight could be the night."
	case days > 1:
		body = fmt.Sprintf("You saved it %d days ago. Tonight could be the night.", days)
	}
	return notify.Message{
		Title: fmt.Sprintf("Ready to cook %s?", rec.Title),
		Body:  body,
		Data:  map[string]string{"type": "cook_nudge", "recipe_id": rec.ID},
	}
}
