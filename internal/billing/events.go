package billing

import (
	"context"
	"database/sql"
	"errors"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

// EventRepository remembers processed webhook events by id.
type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Seen reports whether the event was already processed.
func (r *EventRepository) Seen(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.GetContext(ctx, &found, r.db.Rebind(`SELECT id FROM stripe_events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Database("check stripe event", err)
	}
	return true, nil
}

// Record marks the event processed. Recording twice is not an error.
func (r *EventRepository) Record(ctx context.Context, id, eventType string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO stripe_events (id, type, processed_at) VALUES (?, ?, ?)`),
		id, eventType, database.Now())
	if err != nil && !database.IsUniqueViolation(err) {
		return apperr.Database("record stripe event", err)
	}
	return nil
}
