package deferq

import (
	"context"
	"log/slog"
	"time"
)

// Handler executes one deferred job and delivers its result (or a
// user-visible failure notice) back to the originating channel. A
// failed job is reported, never re-enqueued.
type Handler interface {
	HandleDeferred(ctx context.Context, job Job)
}

// Worker drains the queue on a fixed interval, one job per tick. The
// one-per-tick cadence couples the steady-state retry rate to the tick
// interval, acting as an admission valve in front of the AI dependency.
type Worker struct {
	queue   *Queue
	handler Handler
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker draining queue through handler.
// If pollInterval is <= 0, it defaults to 15s.
func NewWorker(queue *Queue, handler Handler, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run drains one job per interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
		w.DrainOnce(ctx)
	}
}

// DrainOnce purges expired jobs and executes at most one pending job.
// Returns true if a job was executed.
func (w *Worker) DrainOnce(ctx context.Context) bool {
	job, ok := w.queue.Next()
	if !ok {
		return false
	}
	w.logger.Debug("draining deferred job", "job_id", job.ID, "key", job.Key)
	w.handler.HandleDeferred(ctx, job)
	return true
}
