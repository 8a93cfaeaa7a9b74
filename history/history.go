// Package history persists a record of completed async tasks in a local
// SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id     TEXT PRIMARY KEY,
	tool_name   TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	is_error    INTEGER NOT NULL,
	summary     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_started ON task_history (started_at DESC);
`

// Record is one completed task.
type Record struct {
	TaskID    string    `json:"taskId"`
	ToolName  string    `json:"toolName"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	IsError   bool      `json:"isError"`
	Summary   string    `json:"summary"`
}

// Store is a sqlite-backed task history. Safe for concurrent use; the
// database/sql pool serializes access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordTask implements task.HistoryRecorder. Failures are logged, not
// propagated; history must never affect task delivery.
func (s *Store) RecordTask(taskID uuid.UUID, toolName string, startedAt time.Time,
	duration time.Duration, isError bool, summary string) {

	const maxSummary = 512
	if len(summary) > maxSummary {
		summary = summary[:maxSummary]
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO task_history (task_id, tool_name, started_at, duration_ms, is_error, summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		taskID.String(), toolName, startedAt.UTC(), duration.Milliseconds(), isError, summary)
	if err != nil {
		s.logger.Error("failed to record task history", "task_id", taskID, "error", err)
	}
}

// ListRecent returns up to limit records, newest first. A non-positive
// limit falls back to 20.
func (s *Store) ListRecent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT task_id, tool_name, started_at, duration_ms, is_error, summary
		 FROM task_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			durationMs int64
		)
		if err := rows.Scan(&r.TaskID, &r.ToolName, &r.StartedAt, &durationMs, &r.IsError, &r.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan task history row: %w", err)
		}
		r.Duration = (time.Duration(durationMs) * time.Millisecond).String()
		records = append(records, r)
	}
	return records, rows.Err()
}
