package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nexus/pkg/redis"
)

// NudgeChannel is the redis pub/sub channel used to wake pollers early when
// a near-term task is enqueued. The nudge is advisory; the table poll alone
// is sufficient for correctness.
const NudgeChannel = "herald:tasks:nudge"

// Nudge tells pollers a task was enqueued with the given due time.
type Nudge struct {
	TaskID string    `json:"task_id"`
	RunAt  time.Time `json:"run_at"`
}

// Handler executes one claimed task. Returning an error requeues the task
// with backoff until attempts are exhausted.
type Handler func(ctx context.Context, task *Task) error

// Worker polls the queue, claims due tasks and dispatches them to registered
// handlers. Safe to run in multiple replicas against the same table.
type Worker struct {
	queue        *Queue
	logger       logrus.FieldLogger
	pollInterval time.Duration
	staleAfter   time.Duration
	nudge        *redis.TypedPubSub[Nudge]

	mu       sync.RWMutex
	handlers map[string]Handler

	wake chan struct{}
	done chan struct{}
}

// WorkerConfig tunes the polling loop. Nudge may be nil; the worker then
// relies on polling alone.
type WorkerConfig struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	Nudge        *redis.TypedPubSub[Nudge]
}

func NewWorker(queue *Queue, logger logrus.FieldLogger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Worker{
		queue:        queue,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		nudge:        cfg.Nudge,
		handlers:     make(map[string]Handler),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// RegisterHandler binds a task kind to its handler. Must be called before
// Start.
func (w *Worker) RegisterHandler(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

// Start runs the polling loop until ctx is cancelled. Stale running tasks
// from a previous process are requeued first, so work claimed by a crashed
// worker is not lost.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	reclaimed, err := w.queue.ReclaimStale(ctx, w.staleAfter)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reclaim stale tasks")
	} else if reclaimed > 0 {
		w.logger.WithField("count", reclaimed).Warn("Requeued tasks from a previous run")
	}

	if w.nudge != nil {
		go func() {
			err := w.nudge.Subscribe(ctx, NudgeChannel, func(Nudge) {
				select {
				case w.wake <- struct{}{}:
				default:
				}
			})
			if err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Warn("Task nudge subscription lost, polling only")
			}
		}()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Wait blocks until the polling loop has exited.
func (w *Worker) Wait() {
	<-w.done
}

// drain claims and runs due tasks until the queue is empty or ctx ends.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.claimNext(ctx)
		if err != nil {
			w.logger.WithError(err).Error("Failed to claim task")
			return
		}
		if task == nil {
			return
		}
		w.run(ctx, task)
	}
}

func (w *Worker) run(ctx context.Context, task *Task) {
	log := w.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"attempt": task.Attempts,
	})

	w.mu.RLock()
	handler, ok := w.handlers[task.Kind]
	w.mu.RUnlock()
	if !ok {
		log.Error("No handler registered for task kind")
		if err := w.queue.markFailed(ctx, task.ID, "no handler for kind "+task.Kind); err != nil {
			log.WithError(err).Error("Failed to mark task failed")
		}
		return
	}

	if err := handler(ctx, task); err != nil {
		w.handleFailure(ctx, task, err, log)
		return
	}

	if err := w.queue.markDone(ctx, task.ID); err != nil {
		log.WithError(err).Error("Failed to mark task done")
		return
	}
	log.Info("Task completed")
}

func (w *Worker) handleFailure(ctx context.Context, task *Task, cause error, log logrus.FieldLogger) {
	if task.Attempts >= task.MaxAttempts {
		log.WithError(cause).Error("Task failed permanently")
		if err := w.queue.markFailed(ctx, task.ID, cause.Error()); err != nil {
			log.WithError(err).Error("Failed to mark task failed")
		}
		return
	}

	delay := retryDelay(task.Attempts)
	log.WithError(cause).WithField("retry_in", delay.String()).Warn("Task failed, will retry")
	if err := w.queue.retryLater(ctx, task.ID, time.Now().Add(delay), cause.Error()); err != nil {
		log.WithError(err).Error("Failed to requeue task")
	}
}

// retryDelay doubles per attempt from a 30s base, capped at 15 minutes.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * 30 * time.Second
	if d > 15*time.Minute {
		d = 15 * time.Minute
	}
	return d
}

// DecodePayload unmarshals the task payload into dst.
func DecodePayload(task *Task, dst interface{}) error {
	if err := json.Unmarshal(task.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Kind, err)
	}
	return nil
}
