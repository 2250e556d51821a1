package user

import (
	"context"
	"testing"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database/dbtest"
)

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "user-1", "a@example.com")
	repo := NewSessionRepository(db)

	s, err := repo.CreateSession(ctx, "user-1", "test-agent", time.Hour)
	if err != nil {
		t.Fatalf("Expected no error creating session, got %v", err)
	}

	got, err := repo.GetActiveSession(ctx, s.ID, time.Now())
	if err != nil {
		t.Fatalf("Expected active session, got %v", err)
	}
	if got.UserID != "user-1" || got.UserAgent != "test-agent" {
		t.Errorf("Unexpected session: %+v", got)
	}

	// Past its expiry the session is no longer active
	_, err = repo.GetActiveSession(ctx, s.ID, time.Now().Add(2*time.Hour))
	if !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Errorf("Expected UNAUTHENTICATED for expired session, got %v", err)
	}

	if err := repo.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("Expected no error deleting session, got %v", err)
	}
	if _, err := repo.GetActiveSession(ctx, s.ID, time.Now()); err == nil {
		t.Error("Expected deleted session to be inactive")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "user-1", "a@example.com")
	repo := NewSessionRepository(db)

	if _, err := repo.CreateSession(ctx, "user-1", "", -time.Minute); err != nil {
		t.Fatal(err)
	}
	live, err := repo.CreateSession(ctx, "user-1", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	n, err := repo.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired session removed, got %d", n)
	}
	if _, err := repo.GetActiveSession(ctx, live.ID, time.Now()); err != nil {
		t.Errorf("Expected live session to survive cleanup, got %v", err)
	}
}
