package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
	"recipe-box/internal/shared"
)

// ExecutionMetric records metadata for a single agent execution.
type ExecutionMetric struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	AgentName        string    `db:"agent_name"`
	Model            string    `db:"model"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	LatencyMS        int64     `db:"latency_ms"`
	Timestamp        time.Time `db:"recorded_at"`
}

// Store handles persistence of LLM usage metrics.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: database.Now}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO execution_metrics (id, user_id, agent_name, model, prompt_tokens, completion_tokens, latency_ms, recorded_at)
		VALUES (:id, :user_id, :agent_name, :model, :prompt_tokens, :completion_tokens, :latency_ms, :recorded_at)`, m)
	if err != nil {
		return apperr.Database("record execution metric", err)
	}
	llmTokens.WithLabelValues(m.AgentName, "prompt").Add(float64(m.PromptTokens))
	llmTokens.WithLabelValues(m.AgentName, "completion").Add(float64(m.CompletionTokens))
	return nil
}

// RecordMeta records metrics directly from shared.AgentMeta. Anonymous
// runs without token usage are skipped; runs on behalf of a user are
// always kept since they count towards the user's quota.
func (s *Store) RecordMeta(ctx context.Context, userID string, meta shared.AgentMeta) error {
	if userID == "" && meta.Usage.PromptTokens == 0 && meta.Usage.CompletionTokens == 0 {
		return nil
	}
	m := MapUsage(meta.AgentName, meta.Usage, meta.Latency)
	m.UserID = userID
	m.Timestamp = s.now()
	return s.Record(ctx, m)
}

// CountForUserSince counts a user's runs of one agent since a moment.
func (s *Store) CountForUserSince(ctx context.Context, userID, agent string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM execution_metrics
		WHERE user_id = ? AND agent_name = ? AND recorded_at >= ?`), userID, agent, since.UTC())
	if err != nil {
		return 0, apperr.Database("count execution metrics", err)
	}
	return n, nil
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string `db:"day" json:"date"`
	TotalPrompt     int    `db:"prompt" json:"total_prompt"`
	TotalCompletion int    `db:"completion" json:"total_completion"`
	TotalExecution  int    `db:"executions" json:"total_executions"`
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := s.now().AddDate(0, 0, -days)

	day := "substr(recorded_at, 1, 10)"
	if s.db.Driver == database.DriverPostgres {
		day = "to_char(recorded_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	}

	results := []DailyUsage{}
	err := s.db.SelectContext(ctx, &results, s.db.Rebind(`
		SELECT `+day+` AS day,
			COALESCE(SUM(prompt_tokens), 0) AS prompt,
			COALESCE(SUM(completion_tokens), 0) AS completion,
			COUNT(*) AS executions
		FROM execution_metrics
		WHERE recorded_at >= ?
		GROUP BY 1
		ORDER BY 1 DESC`), since)
	if err != nil {
		return nil, apperr.Database("get daily usage", err)
	}
	return results, nil
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM execution_metrics WHERE recorded_at < ?`), threshold)
	if err != nil {
		return 0, apperr.Database("cleanup execution metrics", err)
	}
	return res.RowsAffected()
}

// MapUsage helper to convert shared.TokenUsage to ExecutionMetric.
func MapUsage(agentName string, usage shared.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        agentName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        database.Now(),
	}
}
