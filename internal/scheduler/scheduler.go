// Package scheduler owns the schedule, cancel and reschedule transitions of
// the draft lifecycle. It commits the draft state first and treats the
// durable task row as the executor; a failed enqueue rolls the draft back so
// the two never disagree for long.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexus/internal/lifecycle"
	"nexus/internal/platform"
	"nexus/internal/store"
	"nexus/internal/taskqueue"
	"nexus/internal/timing"
	"nexus/pkg/kafka"
	"nexus/pkg/logging"
	"nexus/pkg/models"
	"nexus/pkg/redis"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetDraftForOwner(ctx context.Context, id, ownerID string) (*models.Draft, error)
	MarkScheduled(ctx context.Context, draftID string, scheduledFor time.Time, score float64) error
	SetPendingTaskRef(ctx context.Context, draftID, taskRef string) error
	ResetToPending(ctx context.Context, draftID string) error
	ListScheduledWindow(ctx context.Context, ownerID string, from, to time.Time) ([]models.Draft, error)
}

// Resolver verifies the owner has a connected client for a platform.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, platform string) (platform.Client, *models.Integration, error)
}

// TaskQueue enqueues and revokes deferred publish tasks.
type TaskQueue interface {
	EnqueueAt(ctx context.Context, kind string, payload interface{}, runAt time.Time) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// EventSink emits lifecycle events for downstream consumers. May be nil.
type EventSink interface {
	PublishContentEvent(ctx context.Context, event kafka.ContentEvent) error
}

// Scheduler coordinates draft scheduling.
type Scheduler struct {
	store    Store
	registry Resolver
	queue    TaskQueue
	events   EventSink
	nudge    *redis.TypedPubSub[taskqueue.Nudge]
	logger   logging.Logger
	now      func() time.Time
}

func New(st Store, registry Resolver, queue TaskQueue, events EventSink, nudge *redis.TypedPubSub[taskqueue.Nudge], logger logging.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		registry: registry,
		queue:    queue,
		events:   events,
		nudge:    nudge,
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule commits a pending draft to a future publish time. The timing
// advisor supplies the slot when no time is given or auto optimization is
// requested; an explicit time is honored only with auto optimization off.
// The returned draft reflects the committed schedule.
func (s *Scheduler) Schedule(ctx context.Context, ownerID, draftID string, explicit *time.Time, autoOptimize bool) (*models.Draft, error) {
	draft, err := s.store.GetDraftForOwner(ctx, draftID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if draft.Status != models.DraftStatusPending {
		return nil, fmt.Errorf("%w: cannot schedule draft in state %s", lifecycle.ErrInvalidTransition, draft.Status)
	}

	now := s.now()
	var when time.Time
	if explicit == nil || autoOptimize {
		when = timing.Recommend(now, draft.Platform, draft.Content)
	} else {
		when = *explicit
	}
	if !when.After(now) {
		return nil, lifecycle.ErrPastTime
	}

	// The owner must have a connected client before the schedule commits.
	if _, _, err := s.registry.Resolve(ctx, ownerID, draft.Platform); err != nil {
		return nil, err
	}

	score := timing.Score(when, draft.Platform)
	if err := s.store.MarkScheduled(ctx, draftID, when, score); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, lifecycle.ErrInvalidTransition
		}
		return nil, err
	}

	taskID, err := s.queue.EnqueueAt(ctx, taskqueue.KindPublishDraft, taskqueue.PublishPayload{DraftID: draftID}, when)
	if err != nil {
		if rbErr := s.store.ResetToPending(ctx, draftID); rbErr != nil {
			s.logger.WithError(rbErr).WithField("draft_id", draftID).Error("Failed to roll back schedule after enqueue failure")
		}
		return nil, fmt.Errorf("enqueue publish task: %w", err)
	}
	if err := s.store.SetPendingTaskRef(ctx, draftID, taskID); err != nil {
		s.logger.WithError(err).WithField("draft_id", draftID).Error("Failed to record publish task ref")
	}

	s.wakeWorkers(ctx, taskID, when)
	s.emit(ctx, kafka.EventContentScheduled, draft, "")

	draft.Status = models.DraftStatusScheduled
	draft.ScheduledFor = &when
	draft.PendingTaskRef = &taskID
	draft.QualityScore = &score
	return draft, nil
}

// CancelSchedule returns a scheduled draft to pending and revokes its
// publish task. The draft flips first; a publish task that already started
// sees the draft is no longer scheduled and skips it.
func (s *Scheduler) CancelSchedule(ctx context.Context, ownerID, draftID string) (*models.Draft, error) {
	draft, err := s.store.GetDraftForOwner(ctx, draftID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if draft.Status != models.DraftStatusScheduled {
		return nil, fmt.Errorf("%w: cannot cancel draft in state %s", lifecycle.ErrInvalidTransition, draft.Status)
	}

	taskRef := draft.PendingTaskRef
	if err := s.store.ResetToPending(ctx, draftID); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, lifecycle.ErrInvalidTransition
		}
		return nil, err
	}
	s.revokeTask(ctx, taskRef, draftID)
	s.emit(ctx, kafka.EventContentCancelled, draft, "")

	draft.Status = models.DraftStatusPending
	draft.ScheduledFor = nil
	draft.PendingTaskRef = nil
	return draft, nil
}

// Reschedule moves a scheduled draft to a new explicit time by cancelling
// the old slot and committing the new one.
func (s *Scheduler) Reschedule(ctx context.Context, ownerID, draftID string, newTime time.Time) (*models.Draft, error) {
	draft, err := s.store.GetDraftForOwner(ctx, draftID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if draft.Status != models.DraftStatusScheduled {
		return nil, fmt.Errorf("%w: cannot reschedule draft in state %s", lifecycle.ErrInvalidTransition, draft.Status)
	}
	if !newTime.After(s.now()) {
		return nil, lifecycle.ErrPastTime
	}

	taskRef := draft.PendingTaskRef
	if err := s.store.ResetToPending(ctx, draftID); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, lifecycle.ErrInvalidTransition
		}
		return nil, err
	}
	s.revokeTask(ctx, taskRef, draftID)

	return s.Schedule(ctx, ownerID, draftID, &newTime, false)
}

// ListScheduled returns the owner's upcoming drafts for the next `days`
// days, soonest first.
func (s *Scheduler) ListScheduled(ctx context.Context, ownerID string, days int) ([]models.Draft, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()
	return s.store.ListScheduledWindow(ctx, ownerID, now, now.AddDate(0, 0, days))
}

// revokeTask cancels the queued task. A task that already ran or is running
// is fine: the publish handler re-checks draft state before acting.
func (s *Scheduler) revokeTask(ctx context.Context, taskRef *string, draftID string) {
	if taskRef == nil || s.queue == nil {
		return
	}
	err := s.queue.Cancel(ctx, *taskRef)
	if err != nil && !errors.Is(err, taskqueue.ErrNotCancellable) && !errors.Is(err, taskqueue.ErrTaskNotFound) {
		s.logger.WithError(err).WithField("draft_id", draftID).Error("Failed to cancel publish task")
	}
}

func (s *Scheduler) wakeWorkers(ctx context.Context, taskID string, runAt time.Time) {
	if s.nudge == nil {
		return
	}
	err := s.nudge.Publish(ctx, taskqueue.NudgeChannel, taskqueue.Nudge{TaskID: taskID, RunAt: runAt})
	if err != nil {
		s.logger.WithError(err).Debug("Task nudge publish failed, workers will poll")
	}
}

func (s *Scheduler) emit(ctx context.Context, eventType string, draft *models.Draft, postID string) {
	if s.events == nil {
		return
	}
	event := kafka.NewContentEvent(eventType, draft.OwnerID, draft.Platform)
	event.DraftID = draft.ID
	event.PostID = postID
	if err := s.events.PublishContentEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to publish content event")
	}
}
