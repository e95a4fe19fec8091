// Package tracker collects engagement snapshots for published posts and
// aggregates them into owner-level insights.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"nexus/internal/lifecycle"
	"nexus/internal/platform"
	"nexus/internal/store"
	"nexus/internal/taskqueue"
	"nexus/pkg/kafka"
	"nexus/pkg/logging"
	"nexus/pkg/models"
)

// Counter weights for the engagement score. Comments signal the most effort
// from the audience, likes the least.
const (
	weightLikes    = 1
	weightClicks   = 2
	weightShares   = 3
	weightComments = 5
)

// Store is the persistence surface the tracker needs.
type Store interface {
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetPostForOwner(ctx context.Context, id, ownerID string) (*models.Post, error)
	AddSnapshot(ctx context.Context, snap *models.EngagementSnapshot) error
	LatestSnapshot(ctx context.Context, postID string) (*models.EngagementSnapshot, error)
	ListPostEngagement(ctx context.Context, ownerID string, since time.Time) ([]store.PostEngagement, error)
}

// Resolver finds the owner's connected client for a platform.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, platform string) (platform.Client, *models.Integration, error)
}

// EventSink emits lifecycle events. May be nil.
type EventSink interface {
	PublishContentEvent(ctx context.Context, event kafka.ContentEvent) error
}

// Tracker owns metrics collection and insight aggregation.
type Tracker struct {
	store    Store
	registry Resolver
	events   EventSink
	logger   logging.Logger
	now      func() time.Time
}

func New(st Store, registry Resolver, events EventSink, logger logging.Logger) *Tracker {
	return &Tracker{
		store:    st,
		registry: registry,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// ComputeScore derives the 0-100 engagement score from raw counters:
// a weighted engagement rate over impressions, scaled up and clamped.
func ComputeScore(c models.EngagementCounters) float64 {
	impressions := c.Impressions
	if impressions < 1 {
		impressions = 1
	}
	weighted := float64(c.Likes*weightLikes + c.Clicks*weightClicks +
		c.Shares*weightShares + c.Comments*weightComments)
	rate := weighted / float64(impressions) * 100
	return math.Min(100, rate*1000)
}

// CollectMetrics fetches current counters for a post and appends a snapshot.
// When the platform cannot be queried at all (no client, no integration, or
// no metrics capability) an explicit "unavailable" snapshot with zero
// counters is written instead, so the gap is visible rather than invented.
// A transient platform failure is returned to the caller for retry.
func (t *Tracker) CollectMetrics(ctx context.Context, postID string) (*models.EngagementSnapshot, error) {
	post, err := t.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}

	counters, source, err := t.fetchCounters(ctx, post)
	if err != nil {
		return nil, err
	}

	snap := &models.EngagementSnapshot{
		PostID:      post.ID,
		Likes:       counters.Likes,
		Shares:      counters.Shares,
		Comments:    counters.Comments,
		Impressions: counters.Impressions,
		Clicks:      counters.Clicks,
		Source:      source,
	}
	if source == models.SnapshotSourcePlatform {
		snap.EngagementScore = ComputeScore(counters)
	}
	if err := t.store.AddSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	t.logger.WithFields(logging.Fields{
		"post_id": post.ID,
		"source":  source,
		"score":   snap.EngagementScore,
	}).Info("Engagement snapshot collected")

	t.emit(ctx, post)
	return snap, nil
}

func (t *Tracker) fetchCounters(ctx context.Context, post *models.Post) (models.EngagementCounters, string, error) {
	var zero models.EngagementCounters

	client, integration, err := t.registry.Resolve(ctx, post.OwnerID, post.Platform)
	if errors.Is(err, lifecycle.ErrNoPlatformClient) {
		return zero, models.SnapshotSourceUnavailable, nil
	}
	if err != nil {
		return zero, "", err
	}

	fetcher, ok := client.(platform.MetricsFetcher)
	if !ok || post.ExternalID == "" {
		return zero, models.SnapshotSourceUnavailable, nil
	}

	counters, err := fetcher.FetchMetrics(ctx, integration, post.ExternalID)
	if err != nil {
		return zero, "", err
	}
	return counters, models.SnapshotSourcePlatform, nil
}

// HandleCollectTask is the handler for deferred metrics-collection tasks.
func (t *Tracker) HandleCollectTask(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.CollectPayload
	if err := taskqueue.DecodePayload(task, &payload); err != nil {
		return err
	}
	_, err := t.CollectMetrics(ctx, payload.PostID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		t.logger.WithField("post_id", payload.PostID).Warn("Metrics task for missing post, dropping")
		return nil
	}
	return err
}

// GetPostPerformance returns a post and its latest snapshot for the owner.
// A post without any snapshot yet reports lifecycle.ErrNotFound.
func (t *Tracker) GetPostPerformance(ctx context.Context, ownerID, postID string) (*models.Post, *models.EngagementSnapshot, error) {
	post, err := t.store.GetPostForOwner(ctx, postID, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, lifecycle.ErrNotFound
		}
		return nil, nil, err
	}
	snap, err := t.store.LatestSnapshot(ctx, post.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, lifecycle.ErrNotFound
		}
		return nil, nil, err
	}
	return post, snap, nil
}

// ThemeScore is the average engagement for one theme tag.
type ThemeScore struct {
	Theme    string
	AvgScore float64
	Posts    int
}

// Highlight identifies the best or worst post in a window.
type Highlight struct {
	Post     models.Post
	Snapshot models.EngagementSnapshot
}

// Insights is the aggregate engagement report for an owner. HasData false
// means no qualifying posts existed; all other fields are then zero.
type Insights struct {
	HasData         bool
	WindowDays      int
	PostCount       int
	AvgEngagement   float64
	Best            *Highlight
	Worst           *Highlight
	TopThemes       []ThemeScore
	Recommendations []string
}

// GetInsights aggregates the owner's posts with snapshots over the window.
func (t *Tracker) GetInsights(ctx context.Context, ownerID string, windowDays int) (*Insights, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := t.now().AddDate(0, 0, -windowDays)

	entries, err := t.store.ListPostEngagement(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &Insights{HasData: false, WindowDays: windowDays}, nil
	}

	var total float64
	best, worst := &entries[0], &entries[0]
	themeScores := make(map[string][]float64)
	for i := range entries {
		e := &entries[i]
		total += e.Snapshot.EngagementScore
		if e.Snapshot.EngagementScore > best.Snapshot.EngagementScore {
			best = e
		}
		if e.Snapshot.EngagementScore < worst.Snapshot.EngagementScore {
			worst = e
		}
		for _, theme := range e.Post.Themes {
			themeScores[theme] = append(themeScores[theme], e.Snapshot.EngagementScore)
		}
	}

	avg := total / float64(len(entries))
	topThemes := rankThemes(themeScores)

	return &Insights{
		HasData:         true,
		WindowDays:      windowDays,
		PostCount:       len(entries),
		AvgEngagement:   round1(avg),
		Best:            &Highlight{Post: best.Post, Snapshot: best.Snapshot},
		Worst:           &Highlight{Post: worst.Post, Snapshot: worst.Snapshot},
		TopThemes:       topThemes,
		Recommendations: recommendations(avg, topThemes, len(entries)),
	}, nil
}

func rankThemes(themeScores map[string][]float64) []ThemeScore {
	out := make([]ThemeScore, 0, len(themeScores))
	for theme, scores := range themeScores {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		out = append(out, ThemeScore{
			Theme:    theme,
			AvgScore: round1(sum / float64(len(scores))),
			Posts:    len(scores),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore > out[j].AvgScore
		}
		return out[i].Theme < out[j].Theme
	})
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func recommendations(avg float64, topThemes []ThemeScore, postCount int) []string {
	var recs []string
	if avg < 50 {
		recs = append(recs, "Focus on more engaging content with questions or interactive elements")
	}
	if postCount < 10 {
		recs = append(recs, "Increase posting frequency for better audience engagement")
	}
	if len(topThemes) > 0 {
		recs = append(recs, fmt.Sprintf("Your %q content performs best, create more on this topic", topThemes[0].Theme))
	}
	recs = append(recs, "Consider posting during optimal times for your audience")
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return recs
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func (t *Tracker) emit(ctx context.Context, post *models.Post) {
	if t.events == nil {
		return
	}
	event := kafka.NewContentEvent(kafka.EventContentMetricsCollected, post.OwnerID, post.Platform)
	event.PostID = post.ID
	if err := t.events.PublishContentEvent(ctx, event); err != nil {
		t.logger.WithError(err).Warn("Failed to publish content event")
	}
}
