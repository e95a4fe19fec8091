// Package store is the persistence layer for drafts, posts, engagement
// snapshots and owner platform integrations. Draft state transitions are
// single-statement optimistic updates: every UPDATE carries the expected
// current state in its WHERE clause and reports a conflict through
// ErrStateConflict instead of holding locks across network calls.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"nexus/pkg/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStateConflict = errors.New("record state changed since read")
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const draftColumns = `id, owner_id, content, platform, status, scheduled_for,
	pending_task_ref, quality_score, themes, prompt_used, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDraft(row rowScanner) (*models.Draft, error) {
	var d models.Draft
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.Content, &d.Platform, &d.Status, &d.ScheduledFor,
		&d.PendingTaskRef, &d.QualityScore, &d.Themes, &d.PromptUsed,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDraft inserts a new pending draft and fills in the generated fields.
func (s *Store) CreateDraft(ctx context.Context, d *models.Draft) error {
	query := `
		INSERT INTO herald.drafts (owner_id, content, platform, status, themes, prompt_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	if d.Status == "" {
		d.Status = models.DraftStatusPending
	}
	if d.Themes == nil {
		d.Themes = pq.StringArray{}
	}
	return s.db.QueryRowContext(ctx, query,
		d.OwnerID, d.Content, d.Platform, d.Status, d.Themes, d.PromptUsed,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// GetDraft retrieves a draft by id without owner scoping. Used by queue
// handlers, which act on behalf of the system rather than a caller.
func (s *Store) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	query := fmt.Sprintf(`SELECT %s FROM herald.drafts WHERE id = $1`, draftColumns)
	return scanDraft(s.db.QueryRowContext(ctx, query, id))
}

// GetDraftForOwner retrieves a draft scoped to its owner. A draft owned by
// someone else is indistinguishable from a missing one.
func (s *Store) GetDraftForOwner(ctx context.Context, id, ownerID string) (*models.Draft, error) {
	query := fmt.Sprintf(`SELECT %s FROM herald.drafts WHERE id = $1 AND owner_id = $2`, draftColumns)
	return scanDraft(s.db.QueryRowContext(ctx, query, id, ownerID))
}

// ListDrafts returns an owner's drafts, newest first, optionally filtered by
// lifecycle state.
func (s *Store) ListDrafts(ctx context.Context, ownerID, status string) ([]models.Draft, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		query := fmt.Sprintf(`SELECT %s FROM herald.drafts WHERE owner_id = $1 ORDER BY created_at DESC`, draftColumns)
		rows, err = s.db.QueryContext(ctx, query, ownerID)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM herald.drafts WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC`, draftColumns)
		rows, err = s.db.QueryContext(ctx, query, ownerID, status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []models.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// MarkScheduled flips a pending draft to scheduled with its target time and
// quality score. Returns ErrStateConflict if the draft is no longer pending.
func (s *Store) MarkScheduled(ctx context.Context, draftID string, scheduledFor time.Time, score float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE herald.drafts
		SET status = $2, scheduled_for = $3, quality_score = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, draftID, models.DraftStatusScheduled, scheduledFor, score, models.DraftStatusPending)
	if err != nil {
		return err
	}
	return oneRowOr(result, ErrStateConflict)
}

// SetPendingTaskRef records the queued publish task id on a scheduled draft
// so a later cancel can revoke it.
func (s *Store) SetPendingTaskRef(ctx context.Context, draftID, taskRef string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE herald.drafts
		SET pending_task_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, draftID, taskRef, models.DraftStatusScheduled)
	if err != nil {
		return err
	}
	return oneRowOr(result, ErrStateConflict)
}

// ResetToPending reverses a schedule: the draft returns to pending and the
// schedule fields are cleared together, keeping the scheduled-iff-set
// invariant. Returns ErrStateConflict if the draft is not scheduled.
func (s *Store) ResetToPending(ctx context.Context, draftID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE herald.drafts
		SET status = $2, scheduled_for = NULL, pending_task_ref = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, draftID, models.DraftStatusPending, models.DraftStatusScheduled)
	if err != nil {
		return err
	}
	return oneRowOr(result, ErrStateConflict)
}

// RejectDraft moves a pending draft to the terminal rejected state.
func (s *Store) RejectDraft(ctx context.Context, draftID, ownerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE herald.drafts
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status = $4
	`, draftID, ownerID, models.DraftStatusRejected, models.DraftStatusPending)
	if err != nil {
		return err
	}
	return oneRowOr(result, ErrStateConflict)
}

// ListScheduledWindow returns an owner's scheduled drafts due inside
// [from, to], soonest first.
func (s *Store) ListScheduledWindow(ctx context.Context, ownerID string, from, to time.Time) ([]models.Draft, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM herald.drafts
		WHERE owner_id = $1 AND status = $2 AND scheduled_for BETWEEN $3 AND $4
		ORDER BY scheduled_for ASC
	`, draftColumns)
	rows, err := s.db.QueryContext(ctx, query, ownerID, models.DraftStatusScheduled, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []models.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// CreatePostAndMarkPublished performs the publish transition atomically: the
// draft flips to published (guarded on its prior state) and the immutable
// post row is created in the same transaction. If the draft state changed
// under us, nothing is written and ErrStateConflict is returned.
func (s *Store) CreatePostAndMarkPublished(ctx context.Context, draft *models.Draft, externalID string, publishedAt time.Time) (*models.Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE herald.drafts
		SET status = $2, scheduled_for = NULL, pending_task_ref = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, draft.ID, models.DraftStatusPublished, models.DraftStatusPending, models.DraftStatusScheduled)
	if err != nil {
		return nil, err
	}
	if err := oneRowOr(result, ErrStateConflict); err != nil {
		return nil, err
	}

	post := &models.Post{
		DraftID:     draft.ID,
		OwnerID:     draft.OwnerID,
		Platform:    draft.Platform,
		Content:     draft.Content,
		ExternalID:  externalID,
		PublishedAt: publishedAt,
		Themes:      draft.Themes,
	}
	if post.Themes == nil {
		post.Themes = pq.StringArray{}
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO herald.posts (draft_id, owner_id, platform, content, external_id, published_at, themes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, post.DraftID, post.OwnerID, post.Platform, post.Content, post.ExternalID, post.PublishedAt, post.Themes,
	).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return post, nil
}

const postColumns = `id, draft_id, owner_id, platform, content, external_id,
	published_at, themes, created_at`

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	var externalID sql.NullString
	err := row.Scan(
		&p.ID, &p.DraftID, &p.OwnerID, &p.Platform, &p.Content, &externalID,
		&p.PublishedAt, &p.Themes, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ExternalID = externalID.String
	return &p, nil
}

// GetPost retrieves a post by id without owner scoping (queue handlers).
func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM herald.posts WHERE id = $1`, postColumns)
	return scanPost(s.db.QueryRowContext(ctx, query, id))
}

// GetPostForOwner retrieves a post scoped to its owner.
func (s *Store) GetPostForOwner(ctx context.Context, id, ownerID string) (*models.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM herald.posts WHERE id = $1 AND owner_id = $2`, postColumns)
	return scanPost(s.db.QueryRowContext(ctx, query, id, ownerID))
}

// ListPostIDsPublishedSince returns ids of posts published at or after the
// cutoff, used by the periodic engagement sweep.
func (s *Store) ListPostIDsPublishedSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM herald.posts WHERE published_at >= $1 ORDER BY published_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddSnapshot appends an engagement snapshot. Snapshots are never updated or
// deleted.
func (s *Store) AddSnapshot(ctx context.Context, snap *models.EngagementSnapshot) error {
	if snap.Source == "" {
		snap.Source = models.SnapshotSourcePlatform
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO herald.engagement_snapshots
			(post_id, likes, shares, comments, impressions, clicks, engagement_score, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, collected_at
	`, snap.PostID, snap.Likes, snap.Shares, snap.Comments, snap.Impressions,
		snap.Clicks, snap.EngagementScore, snap.Source,
	).Scan(&snap.ID, &snap.CollectedAt)
}

// LatestSnapshot returns the most recent snapshot for a post, or ErrNotFound
// if none has been collected yet.
func (s *Store) LatestSnapshot(ctx context.Context, postID string) (*models.EngagementSnapshot, error) {
	var snap models.EngagementSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, likes, shares, comments, impressions, clicks,
		       engagement_score, source, collected_at
		FROM herald.engagement_snapshots
		WHERE post_id = $1
		ORDER BY collected_at DESC
		LIMIT 1
	`, postID).Scan(
		&snap.ID, &snap.PostID, &snap.Likes, &snap.Shares, &snap.Comments,
		&snap.Impressions, &snap.Clicks, &snap.EngagementScore, &snap.Source,
		&snap.CollectedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// PostEngagement pairs a post with its latest engagement snapshot.
type PostEngagement struct {
	Post     models.Post
	Snapshot models.EngagementSnapshot
}

// ListPostEngagement returns an owner's posts published at or after the
// cutoff that have at least one snapshot, each with its latest snapshot.
func (s *Store) ListPostEngagement(ctx context.Context, ownerID string, since time.Time) ([]PostEngagement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.draft_id, p.owner_id, p.platform, p.content, p.external_id,
		       p.published_at, p.themes, p.created_at,
		       es.id, es.post_id, es.likes, es.shares, es.comments, es.impressions,
		       es.clicks, es.engagement_score, es.source, es.collected_at
		FROM herald.posts p
		JOIN LATERAL (
			SELECT * FROM herald.engagement_snapshots
			WHERE post_id = p.id
			ORDER BY collected_at DESC
			LIMIT 1
		) es ON TRUE
		WHERE p.owner_id = $1 AND p.published_at >= $2
		ORDER BY p.published_at ASC
	`, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PostEngagement
	for rows.Next() {
		var pe PostEngagement
		var externalID sql.NullString
		err := rows.Scan(
			&pe.Post.ID, &pe.Post.DraftID, &pe.Post.OwnerID, &pe.Post.Platform,
			&pe.Post.Content, &externalID, &pe.Post.PublishedAt, &pe.Post.Themes,
			&pe.Post.CreatedAt,
			&pe.Snapshot.ID, &pe.Snapshot.PostID, &pe.Snapshot.Likes,
			&pe.Snapshot.Shares, &pe.Snapshot.Comments, &pe.Snapshot.Impressions,
			&pe.Snapshot.Clicks, &pe.Snapshot.EngagementScore, &pe.Snapshot.Source,
			&pe.Snapshot.CollectedAt,
		)
		if err != nil {
			return nil, err
		}
		pe.Post.ExternalID = externalID.String
		results = append(results, pe)
	}
	return results, rows.Err()
}

// GetConnectedIntegration returns the owner's connected integration for a
// platform, or ErrNotFound when none is connected.
func (s *Store) GetConnectedIntegration(ctx context.Context, ownerID, platform string) (*models.Integration, error) {
	var in models.Integration
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, platform, status, credentials, created_at, updated_at
		FROM herald.integrations
		WHERE owner_id = $1 AND platform = $2 AND status = $3
	`, ownerID, platform, models.IntegrationStatusConnected).Scan(
		&in.ID, &in.OwnerID, &in.Platform, &in.Status, &in.Credentials,
		&in.CreatedAt, &in.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func oneRowOr(result sql.Result, conflict error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return conflict
	}
	return nil
}
