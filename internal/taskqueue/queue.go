// Package taskqueue is a durable, time-aware task queue backed by Postgres.
// Tasks are rows; a worker claims due rows with FOR UPDATE SKIP LOCKED so
// several replicas can poll the same table without double-claiming. Delivery
// is at-least-once, so handlers must be idempotent.
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Task kinds dispatched by the worker.
const (
	KindPublishDraft   = "publish_draft"
	KindCollectMetrics = "collect_metrics"
)

// Task statuses. Queued tasks are claimable once run_at passes; running
// tasks belong to a worker; the rest are terminal.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotCancellable means the task already left the queued state.
	ErrNotCancellable = errors.New("task is not cancellable")
)

// Task is one unit of deferred work.
type Task struct {
	ID          string
	Kind        string
	Payload     json.RawMessage
	RunAt       time.Time
	Status      string
	Attempts    int
	MaxAttempts int
	LastError   *string
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PublishPayload is the payload for publish_draft tasks.
type PublishPayload struct {
	DraftID string `json:"draft_id"`
}

// CollectPayload is the payload for collect_metrics tasks.
type CollectPayload struct {
	PostID string `json:"post_id"`
}

// Queue enqueues and cancels durable tasks.
type Queue struct {
	db *sql.DB
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// EnqueueAt stores a task to run no earlier than runAt and returns its id.
// The row is the source of truth; it survives restarts.
func (q *Queue) EnqueueAt(ctx context.Context, kind string, payload interface{}, runAt time.Time) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var id string
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO herald.scheduled_tasks (kind, payload, run_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, kind, body, runAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Cancel revokes a queued task. A task that already started running (or
// finished) cannot be revoked; the caller decides how to handle that.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, taskID, StatusCancelled, StatusQueued)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := q.db.QueryRowContext(ctx,
			`SELECT status FROM herald.scheduled_tasks WHERE id = $1`, taskID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

// claimNext atomically claims the oldest due queued task, or returns nil
// when nothing is due. SKIP LOCKED keeps concurrent claimers from blocking
// on each other.
func (q *Queue) claimNext(ctx context.Context) (*Task, error) {
	var t Task
	err := q.db.QueryRowContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $1, attempts = attempts + 1, claimed_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM herald.scheduled_tasks
			WHERE status = $2 AND run_at <= NOW()
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, payload, run_at, status, attempts, max_attempts,
		          last_error, claimed_at, created_at, updated_at
	`, StatusRunning, StatusQueued).Scan(
		&t.ID, &t.Kind, &t.Payload, &t.RunAt, &t.Status, &t.Attempts,
		&t.MaxAttempts, &t.LastError, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *Queue) markDone(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, taskID, StatusDone)
	return err
}

// retryLater requeues a failed attempt with a new run time. Only running
// rows move back, so a concurrent cancel is not overwritten.
func (q *Queue) retryLater(ctx context.Context, taskID string, runAt time.Time, cause string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $2, run_at = $3, last_error = $4, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, taskID, StatusQueued, runAt, cause, StatusRunning)
	return err
}

func (q *Queue) markFailed(ctx context.Context, taskID, cause string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, taskID, StatusFailed, cause)
	return err
}

// ReclaimStale requeues running tasks whose claim is older than maxAge.
// A row stuck in running means a worker died mid-task; delivery is
// at-least-once so re-running is safe. Returns the number reclaimed.
func (q *Queue) ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE herald.scheduled_tasks
		SET status = $1, claimed_at = NULL, updated_at = NOW()
		WHERE status = $2 AND claimed_at < NOW() - $3::interval
	`, StatusQueued, StatusRunning, maxAge.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
