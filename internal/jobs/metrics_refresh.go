// Package jobs holds the periodic background jobs that run alongside the
// task queue worker.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"nexus/internal/taskqueue"
	"nexus/pkg/logging"
)

// Store lists recently published posts for the refresh sweep.
type Store interface {
	ListPostIDsPublishedSince(ctx context.Context, since time.Time) ([]string, error)
}

// TaskQueue enqueues collection tasks.
type TaskQueue interface {
	EnqueueAt(ctx context.Context, kind string, payload interface{}, runAt time.Time) (string, error)
}

// MetricsRefresher periodically re-collects engagement for posts published
// in the recent window, so the one-shot snapshot after publish does not stay
// the only data point while a post is still gathering reactions.
type MetricsRefresher struct {
	store  Store
	queue  TaskQueue
	logger logging.Logger

	// window is how far back published posts are still refreshed.
	window time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

func NewMetricsRefresher(st Store, queue TaskQueue, logger logging.Logger, window time.Duration) *MetricsRefresher {
	if window <= 0 {
		window = 48 * time.Hour
	}
	return &MetricsRefresher{
		store:  st,
		queue:  queue,
		logger: logger,
		window: window,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start runs the hourly sweep until Stop is called.
func (m *MetricsRefresher) Start() error {
	_, err := m.cron.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		m.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	m.logger.WithField("window", m.window.String()).Info("Metrics refresh sweep started")
	return nil
}

// Stop halts the cron scheduler and waits for a running sweep to finish.
func (m *MetricsRefresher) Stop() {
	<-m.cron.Stop().Done()
}

// Sweep enqueues one collection task per recently published post. Tasks run
// immediately; the queue's at-least-once delivery and the tracker's
// append-only snapshots make duplicate sweeps harmless.
func (m *MetricsRefresher) Sweep(ctx context.Context) {
	now := m.now()
	ids, err := m.store.ListPostIDsPublishedSince(ctx, now.Add(-m.window))
	if err != nil {
		m.logger.WithError(err).Error("Metrics sweep failed to list recent posts")
		return
	}

	enqueued := 0
	for _, id := range ids {
		_, err := m.queue.EnqueueAt(ctx, taskqueue.KindCollectMetrics, taskqueue.CollectPayload{PostID: id}, now)
		if err != nil {
			m.logger.WithError(err).WithField("post_id", id).Error("Metrics sweep failed to enqueue collection")
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		m.logger.WithField("count", enqueued).Info("Metrics sweep enqueued collections")
	}
}
