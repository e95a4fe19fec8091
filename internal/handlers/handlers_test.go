package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/platform"
	"nexus/internal/publisher"
	"nexus/internal/scheduler"
	"nexus/internal/store"
	"nexus/internal/tracker"
	"nexus/pkg/models"
)

// memStore is an in-memory stand-in for the persistence layer, implementing
// the store surfaces of every component under test.
type memStore struct {
	drafts     map[string]*models.Draft
	posts      map[string]*models.Post
	snapshots  map[string][]*models.EngagementSnapshot
	engagement []store.PostEngagement
	nextID     int
}

func newMemStore() *memStore {
	return &memStore{
		drafts:    make(map[string]*models.Draft),
		posts:     make(map[string]*models.Post),
		snapshots: make(map[string][]*models.EngagementSnapshot),
	}
}

func (m *memStore) CreateDraft(ctx context.Context, d *models.Draft) error {
	m.nextID++
	d.ID = fmt.Sprintf("draft-%d", m.nextID)
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.drafts[d.ID] = d
	return nil
}

func (m *memStore) ListDrafts(ctx context.Context, ownerID, status string) ([]models.Draft, error) {
	var out []models.Draft
	for _, d := range m.drafts {
		if d.OwnerID == ownerID && (status == "" || d.Status == status) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	d, ok := m.drafts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memStore) GetDraftForOwner(ctx context.Context, id, ownerID string) (*models.Draft, error) {
	d, err := m.GetDraft(ctx, id)
	if err != nil || d.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *memStore) RejectDraft(ctx context.Context, draftID, ownerID string) error {
	d, ok := m.drafts[draftID]
	if !ok || d.OwnerID != ownerID || d.Status != models.DraftStatusPending {
		return store.ErrStateConflict
	}
	d.Status = models.DraftStatusRejected
	return nil
}

func (m *memStore) MarkScheduled(ctx context.Context, draftID string, scheduledFor time.Time, score float64) error {
	d, ok := m.drafts[draftID]
	if !ok || d.Status != models.DraftStatusPending {
		return store.ErrStateConflict
	}
	d.Status = models.DraftStatusScheduled
	d.ScheduledFor = &scheduledFor
	d.QualityScore = &score
	return nil
}

func (m *memStore) SetPendingTaskRef(ctx context.Context, draftID, taskRef string) error {
	d, ok := m.drafts[draftID]
	if !ok || d.Status != models.DraftStatusScheduled {
		return store.ErrStateConflict
	}
	d.PendingTaskRef = &taskRef
	return nil
}

func (m *memStore) ResetToPending(ctx context.Context, draftID string) error {
	d, ok := m.drafts[draftID]
	if !ok || d.Status != models.DraftStatusScheduled {
		return store.ErrStateConflict
	}
	d.Status = models.DraftStatusPending
	d.ScheduledFor = nil
	d.PendingTaskRef = nil
	return nil
}

func (m *memStore) ListScheduledWindow(ctx context.Context, ownerID string, from, to time.Time) ([]models.Draft, error) {
	var out []models.Draft
	for _, d := range m.drafts {
		if d.OwnerID == ownerID && d.Status == models.DraftStatusScheduled &&
			d.ScheduledFor != nil && !d.ScheduledFor.Before(from) && !d.ScheduledFor.After(to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) CreatePostAndMarkPublished(ctx context.Context, draft *models.Draft, externalID string, publishedAt time.Time) (*models.Post, error) {
	d := m.drafts[draft.ID]
	if d.Status != models.DraftStatusPending && d.Status != models.DraftStatusScheduled {
		return nil, store.ErrStateConflict
	}
	d.Status = models.DraftStatusPublished
	d.ScheduledFor = nil
	d.PendingTaskRef = nil
	m.nextID++
	post := &models.Post{
		ID:          fmt.Sprintf("post-%d", m.nextID),
		DraftID:     draft.ID,
		OwnerID:     draft.OwnerID,
		Platform:    draft.Platform,
		Content:     draft.Content,
		ExternalID:  externalID,
		PublishedAt: publishedAt,
	}
	m.posts[post.ID] = post
	return post, nil
}

func (m *memStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, ok := m.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPostForOwner(ctx context.Context, id, ownerID string) (*models.Post, error) {
	p, err := m.GetPost(ctx, id)
	if err != nil || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) AddSnapshot(ctx context.Context, snap *models.EngagementSnapshot) error {
	snap.CollectedAt = time.Now()
	m.snapshots[snap.PostID] = append(m.snapshots[snap.PostID], snap)
	return nil
}

func (m *memStore) LatestSnapshot(ctx context.Context, postID string) (*models.EngagementSnapshot, error) {
	snaps := m.snapshots[postID]
	if len(snaps) == 0 {
		return nil, store.ErrNotFound
	}
	return snaps[len(snaps)-1], nil
}

func (m *memStore) ListPostEngagement(ctx context.Context, ownerID string, since time.Time) ([]store.PostEngagement, error) {
	return m.engagement, nil
}

type memQueue struct {
	nextID    int
	cancelled []string
}

func (m *memQueue) EnqueueAt(ctx context.Context, kind string, payload interface{}, runAt time.Time) (string, error) {
	m.nextID++
	return fmt.Sprintf("task-%d", m.nextID), nil
}

func (m *memQueue) Cancel(ctx context.Context, taskID string) error {
	m.cancelled = append(m.cancelled, taskID)
	return nil
}

type memClient struct{}

func (memClient) Platform() string { return "twitter" }
func (memClient) Publish(ctx context.Context, in *models.Integration, content string) (string, error) {
	return "ext-42", nil
}

type memResolver struct{}

func (memResolver) Resolve(ctx context.Context, ownerID, plat string) (platform.Client, *models.Integration, error) {
	return memClient{}, &models.Integration{ID: "int-1"}, nil
}

type memGenerator struct{}

func (memGenerator) Generate(ctx context.Context, prompt, platform string, count int) ([]GeneratedDraft, error) {
	out := make([]GeneratedDraft, count)
	for i := range out {
		out[i] = GeneratedDraft{Content: prompt, Themes: []string{"testing"}}
	}
	return out, nil
}

func testAuth(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func newTestRouter(t *testing.T, ms *memStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	queue := &memQueue{}
	resolver := memResolver{}
	sch := scheduler.New(ms, resolver, queue, nil, nil, logger)
	pub := publisher.New(ms, resolver, queue, nil, logger, time.Hour)
	tr := tracker.New(ms, resolver, nil, logger)
	h := NewHandlers(ms, sch, pub, tr, memGenerator{}, logger)

	router := gin.New()
	h.RegisterRoutes(router, testAuth("owner-1"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedPending(ms *memStore) *models.Draft {
	d := &models.Draft{
		OwnerID:  "owner-1",
		Content:  "shipping notes",
		Platform: "twitter",
		Status:   models.DraftStatusPending,
	}
	_ = ms.CreateDraft(context.Background(), d)
	return d
}

func TestScheduleEndpoint(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)
	when := time.Now().Add(2 * time.Hour).UTC()

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/schedule",
		map[string]interface{}{"time": when})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		DraftID      string    `json:"draft_id"`
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, d.ID, resp.DraftID)
	assert.WithinDuration(t, when, resp.ScheduledFor, time.Second)
}

func TestScheduleEndpoint_PastTime(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/schedule",
		map[string]interface{}{"time": time.Now().Add(-time.Hour)})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleEndpoint_NoTimeUsesAdvisor(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/schedule",
		map[string]interface{}{})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.ScheduledFor.After(time.Now()))
}

func TestScheduleEndpoint_UnknownDraft(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/draft-404/schedule",
		map[string]interface{}{"auto_optimize": true})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelScheduleEndpoint(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	when := time.Now().Add(time.Hour)
	ref := "task-1"
	d.Status = models.DraftStatusScheduled
	d.ScheduledFor = &when
	d.PendingTaskRef = &ref
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodDelete, "/api/v1/content/"+d.ID+"/schedule", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DraftStatusPending, ms.drafts[d.ID].Status)
}

func TestCancelScheduleEndpoint_NotScheduled(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodDelete, "/api/v1/content/"+d.ID+"/schedule", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPublishEndpoint(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/publish", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		PostID     string `json:"post_id"`
		ExternalID string `json:"external_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ext-42", resp.ExternalID)
	assert.Equal(t, models.DraftStatusPublished, ms.drafts[d.ID].Status)
}

func TestGenerateEndpoint(t *testing.T) {
	ms := newMemStore()
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/generate",
		map[string]interface{}{"prompt": "index tuning", "platform": "twitter", "count": 2})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, ms.drafts, 2)
}

func TestGenerateEndpoint_MissingPrompt(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/generate",
		map[string]interface{}{"platform": "twitter"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectEndpoint(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/reject", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DraftStatusRejected, ms.drafts[d.ID].Status)
}

func TestRejectEndpoint_AlreadyRejected(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	d.Status = models.DraftStatusRejected
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodPost, "/api/v1/content/"+d.ID+"/reject", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListScheduledEndpoint(t *testing.T) {
	ms := newMemStore()
	d := seedPending(ms)
	when := time.Now().Add(24 * time.Hour)
	d.Status = models.DraftStatusScheduled
	d.ScheduledFor = &when
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodGet, "/api/v1/content/scheduled?days=7", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count  int `json:"count"`
		Drafts []struct {
			ID string `json:"id"`
		} `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, d.ID, resp.Drafts[0].ID)
}

func TestPerformanceEndpoint_NoSnapshot(t *testing.T) {
	ms := newMemStore()
	ms.posts["post-1"] = &models.Post{ID: "post-1", OwnerID: "owner-1", Platform: "twitter"}
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodGet, "/api/v1/posts/post-1/performance", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPerformanceEndpoint(t *testing.T) {
	ms := newMemStore()
	ms.posts["post-1"] = &models.Post{ID: "post-1", OwnerID: "owner-1", Platform: "twitter", Content: "hello"}
	ms.snapshots["post-1"] = []*models.EngagementSnapshot{
		{PostID: "post-1", EngagementScore: 64, Source: models.SnapshotSourcePlatform},
	}
	router := newTestRouter(t, ms)

	w := doJSON(t, router, http.MethodGet, "/api/v1/posts/post-1/performance", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Snapshot struct {
			EngagementScore float64 `json:"engagement_score"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 64.0, resp.Snapshot.EngagementScore)
}

func TestInsightsEndpoint_NoData(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := doJSON(t, router, http.MethodGet, "/api/v1/analytics/insights", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		HasData bool   `json:"has_data"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.HasData)
	assert.NotEmpty(t, resp.Message)
}
