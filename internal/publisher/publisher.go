// Package publisher performs the irreversible publish transition: push the
// content to the external platform, then flip the draft and create the post
// in one transaction. Publishing is idempotent under task retries because the
// draft state is re-checked and the flip is guarded.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexus/internal/lifecycle"
	"nexus/internal/platform"
	"nexus/internal/store"
	"nexus/internal/taskqueue"
	"nexus/pkg/kafka"
	"nexus/pkg/logging"
	"nexus/pkg/models"
)

// Store is the persistence surface the publisher needs.
type Store interface {
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	GetDraftForOwner(ctx context.Context, id, ownerID string) (*models.Draft, error)
	CreatePostAndMarkPublished(ctx context.Context, draft *models.Draft, externalID string, publishedAt time.Time) (*models.Post, error)
}

// Resolver finds the owner's connected client for a platform.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, platform string) (platform.Client, *models.Integration, error)
}

// TaskQueue defers the first metrics collection after a publish.
type TaskQueue interface {
	EnqueueAt(ctx context.Context, kind string, payload interface{}, runAt time.Time) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// EventSink emits lifecycle events. May be nil.
type EventSink interface {
	PublishContentEvent(ctx context.Context, event kafka.ContentEvent) error
}

// Publisher coordinates the publish transition.
type Publisher struct {
	store    Store
	registry Resolver
	queue    TaskQueue
	events   EventSink
	logger   logging.Logger

	// metricsDelay is how long after publishing the first engagement
	// snapshot is collected.
	metricsDelay time.Duration
	now          func() time.Time
}

func New(st Store, registry Resolver, queue TaskQueue, events EventSink, logger logging.Logger, metricsDelay time.Duration) *Publisher {
	if metricsDelay <= 0 {
		metricsDelay = time.Hour
	}
	return &Publisher{
		store:        st,
		registry:     registry,
		queue:        queue,
		events:       events,
		logger:       logger,
		metricsDelay: metricsDelay,
		now:          time.Now,
	}
}

// PublishNow publishes a draft immediately on behalf of its owner. Works on
// pending drafts and on scheduled drafts. The queued publish task is revoked
// only after the publish commits; a failed attempt leaves the schedule and
// its task intact so the deferred publish still fires.
func (p *Publisher) PublishNow(ctx context.Context, ownerID, draftID string) (*models.Post, error) {
	draft, err := p.store.GetDraftForOwner(ctx, draftID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if draft.Status != models.DraftStatusPending && draft.Status != models.DraftStatusScheduled {
		return nil, fmt.Errorf("%w: cannot publish draft in state %s", lifecycle.ErrInvalidTransition, draft.Status)
	}

	post, err := p.publish(ctx, draft)
	if err != nil {
		return nil, err
	}

	// A revoke failure is harmless: the task handler sees the draft is no
	// longer scheduled and completes as a no-op.
	if draft.PendingTaskRef != nil {
		err := p.queue.Cancel(ctx, *draft.PendingTaskRef)
		if err != nil && !errors.Is(err, taskqueue.ErrNotCancellable) && !errors.Is(err, taskqueue.ErrTaskNotFound) {
			p.logger.WithError(err).WithField("draft_id", draftID).Warn("Failed to revoke publish task after immediate publish")
		}
	}

	return post, nil
}

// HandlePublishTask is the handler for deferred publish tasks. A draft that
// is no longer scheduled was cancelled or already published; the task
// completes without action.
func (p *Publisher) HandlePublishTask(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.PublishPayload
	if err := taskqueue.DecodePayload(task, &payload); err != nil {
		return err
	}

	draft, err := p.store.GetDraft(ctx, payload.DraftID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.WithField("draft_id", payload.DraftID).Warn("Publish task for missing draft, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if draft.Status != models.DraftStatusScheduled {
		p.logger.WithFields(logging.Fields{
			"draft_id": draft.ID,
			"status":   draft.Status,
		}).Info("Draft no longer scheduled, skipping publish")
		return nil
	}

	_, err = p.publish(ctx, draft)
	if errors.Is(err, lifecycle.ErrInvalidTransition) {
		// Lost the race to a concurrent publish. The work is done.
		return nil
	}
	return err
}

// publish pushes content out and commits the transition. The platform call
// happens before the flip: a failed call leaves the draft untouched and
// retryable, while a failed flip after a successful call is surfaced loudly
// since the external post already exists.
func (p *Publisher) publish(ctx context.Context, draft *models.Draft) (*models.Post, error) {
	client, integration, err := p.registry.Resolve(ctx, draft.OwnerID, draft.Platform)
	if err != nil {
		return nil, err
	}

	externalID, err := client.Publish(ctx, integration, draft.Content)
	if err != nil {
		return nil, err
	}

	publishedAt := p.now().UTC()
	post, err := p.store.CreatePostAndMarkPublished(ctx, draft, externalID, publishedAt)
	if errors.Is(err, store.ErrStateConflict) {
		p.logger.WithFields(logging.Fields{
			"draft_id":    draft.ID,
			"external_id": externalID,
		}).Error("Draft state changed after platform publish, external post exists without a post row")
		return nil, lifecycle.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logging.Fields{
		"draft_id":    draft.ID,
		"post_id":     post.ID,
		"platform":    post.Platform,
		"external_id": externalID,
	}).Info("Content published")

	p.scheduleMetricsCollection(ctx, post)
	p.emit(ctx, post)
	return post, nil
}

func (p *Publisher) scheduleMetricsCollection(ctx context.Context, post *models.Post) {
	runAt := p.now().Add(p.metricsDelay)
	_, err := p.queue.EnqueueAt(ctx, taskqueue.KindCollectMetrics, taskqueue.CollectPayload{PostID: post.ID}, runAt)
	if err != nil {
		p.logger.WithError(err).WithField("post_id", post.ID).Error("Failed to enqueue metrics collection")
	}
}

func (p *Publisher) emit(ctx context.Context, post *models.Post) {
	if p.events == nil {
		return
	}
	event := kafka.NewContentEvent(kafka.EventContentPublished, post.OwnerID, post.Platform)
	event.DraftID = post.DraftID
	event.PostID = post.ID
	if err := p.events.PublishContentEvent(ctx, event); err != nil {
		p.logger.WithError(err).Warn("Failed to publish content event")
	}
}
