package taskqueue

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db), mock
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestEnqueueAt(t *testing.T) {
	q, mock := newMockQueue(t)
	runAt := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO herald\.scheduled_tasks`).
		WithArgs(KindPublishDraft, []byte(`{"draft_id":"draft-1"}`), runAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("task-1"))

	id, err := q.EnqueueAt(context.Background(), KindPublishDraft, PublishPayload{DraftID: "draft-1"}, runAt)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_Queued(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusCancelled, StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, q.Cancel(context.Background(), "task-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_AlreadyRunning(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusCancelled, StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM herald\.scheduled_tasks`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(StatusRunning))

	err := q.Cancel(context.Background(), "task-1")
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_Missing(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusCancelled, StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM herald\.scheduled_tasks`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := q.Cancel(context.Background(), "task-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_NothingDue(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	task, err := q.claimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func claimRows(attempts int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "kind", "payload", "run_at", "status", "attempts", "max_attempts",
		"last_error", "claimed_at", "created_at", "updated_at",
	}).AddRow("task-1", KindPublishDraft, []byte(`{"draft_id":"draft-1"}`),
		now, StatusRunning, attempts, 5, nil, now, now, now)
}

func TestWorkerRun_Success(t *testing.T) {
	q, mock := newMockQueue(t)
	w := NewWorker(q, testLogger(), WorkerConfig{})

	var got PublishPayload
	w.RegisterHandler(KindPublishDraft, func(ctx context.Context, task *Task) error {
		return DecodePayload(task, &got)
	})

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(claimRows(1))
	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusDone).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w.drain(context.Background())

	assert.Equal(t, "draft-1", got.DraftID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRun_FailureRequeuesWithBackoff(t *testing.T) {
	q, mock := newMockQueue(t)
	w := NewWorker(q, testLogger(), WorkerConfig{})
	w.RegisterHandler(KindPublishDraft, func(ctx context.Context, task *Task) error {
		return assert.AnError
	})

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(claimRows(1))
	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusQueued, sqlmock.AnyArg(), assert.AnError.Error(), StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w.drain(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRun_ExhaustedAttemptsFailPermanently(t *testing.T) {
	q, mock := newMockQueue(t)
	w := NewWorker(q, testLogger(), WorkerConfig{})
	w.RegisterHandler(KindPublishDraft, func(ctx context.Context, task *Task) error {
		return assert.AnError
	})

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(claimRows(5))
	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs("task-1", StatusFailed, assert.AnError.Error()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusRunning, StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w.drain(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(1))
	assert.Equal(t, 60*time.Second, retryDelay(2))
	assert.Equal(t, 15*time.Minute, retryDelay(10))
}

func TestReclaimStale(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE herald\.scheduled_tasks`).
		WithArgs(StatusQueued, StatusRunning, "10m0s").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := q.ReclaimStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
