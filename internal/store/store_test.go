package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestGetDraftForOwner_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM herald\.drafts WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("draft-1", "owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetDraftForOwner(context.Background(), "draft-1", "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScheduled(t *testing.T) {
	s, mock := newMockStore(t)
	when := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs("draft-1", models.DraftStatusScheduled, when, 82.5, models.DraftStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkScheduled(context.Background(), "draft-1", when, 82.5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScheduled_AlreadyScheduled(t *testing.T) {
	s, mock := newMockStore(t)
	when := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs("draft-1", models.DraftStatusScheduled, when, 82.5, models.DraftStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkScheduled(context.Background(), "draft-1", when, 82.5)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetToPending_ClearsScheduleFields(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET status = \$2, scheduled_for = NULL, pending_task_ref = NULL`).
		WithArgs("draft-1", models.DraftStatusPending, models.DraftStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ResetToPending(context.Background(), "draft-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetToPending_NotScheduled(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs("draft-1", models.DraftStatusPending, models.DraftStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ResetToPending(context.Background(), "draft-1")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePostAndMarkPublished(t *testing.T) {
	s, mock := newMockStore(t)
	publishedAt := time.Date(2026, 3, 4, 9, 30, 2, 0, time.UTC)
	draft := &models.Draft{
		ID:       "draft-1",
		OwnerID:  "owner-1",
		Platform: "twitter",
		Content:  "hello world",
		Themes:   pq.StringArray{"ai"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs(draft.ID, models.DraftStatusPublished, models.DraftStatusPending, models.DraftStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO herald\.posts`).
		WithArgs(draft.ID, draft.OwnerID, draft.Platform, draft.Content, "ext-99", publishedAt, draft.Themes).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("post-1", publishedAt))
	mock.ExpectCommit()

	post, err := s.CreatePostAndMarkPublished(context.Background(), draft, "ext-99", publishedAt)
	require.NoError(t, err)
	assert.Equal(t, "post-1", post.ID)
	assert.Equal(t, "ext-99", post.ExternalID)
	assert.Equal(t, draft.OwnerID, post.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePostAndMarkPublished_AlreadyPublished(t *testing.T) {
	s, mock := newMockStore(t)
	draft := &models.Draft{ID: "draft-1", OwnerID: "owner-1", Platform: "twitter"}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs(draft.ID, models.DraftStatusPublished, models.DraftStatusPending, models.DraftStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.CreatePostAndMarkPublished(context.Background(), draft, "ext-99", time.Now())
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectDraft_OnlyPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE herald\.drafts`).
		WithArgs("draft-1", "owner-1", models.DraftStatusRejected, models.DraftStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RejectDraft(context.Background(), "draft-1", "owner-1")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConnectedIntegration(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "owner_id", "platform", "status", "credentials", "created_at", "updated_at"}).
		AddRow("int-1", "owner-1", "twitter", models.IntegrationStatusConnected, "tok", now, now)
	mock.ExpectQuery(`SELECT .+ FROM herald\.integrations`).
		WithArgs("owner-1", "twitter", models.IntegrationStatusConnected).
		WillReturnRows(rows)

	in, err := s.GetConnectedIntegration(context.Background(), "owner-1", "twitter")
	require.NoError(t, err)
	assert.Equal(t, "int-1", in.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListScheduledWindow(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	due := from.Add(9 * time.Hour)
	score := 80.0

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "content", "platform", "status", "scheduled_for",
		"pending_task_ref", "quality_score", "themes", "prompt_used", "created_at", "updated_at",
	}).AddRow("draft-1", "owner-1", "hello", "twitter", models.DraftStatusScheduled,
		due, nil, score, pq.StringArray{}, nil, from, from)

	mock.ExpectQuery(`SELECT .+ FROM herald\.drafts`).
		WithArgs("owner-1", models.DraftStatusScheduled, from, to).
		WillReturnRows(rows)

	drafts, err := s.ListScheduledWindow(context.Background(), "owner-1", from, to)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, due, *drafts[0].ScheduledFor)
	assert.NoError(t, mock.ExpectationsWereMet())
}
