package persistence

import (
	"context"
	"time"
)

// TaskRecord is the persisted form of a final task result. Output is
// the serialized handler output; the store never interprets it.
type TaskRecord struct {
	TaskID      string    `json:"task_id"`
	AgentID     string    `json:"agent_id,omitempty"`
	Success     bool      `json:"success"`
	Output      []byte    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// TaskStore archives final task results.
type TaskStore interface {
	Store

	// SaveResult persists the final result of a task.
	SaveResult(ctx context.Context, rec *TaskRecord) error

	// GetResult retrieves the archived result of a task.
	GetResult(ctx context.Context, taskID string) (*TaskRecord, error)

	// ListResults returns up to limit archived results, most recent last.
	ListResults(ctx context.Context, limit int) ([]*TaskRecord, error)

	// Cleanup deletes results older than the given age and returns the
	// number removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}
