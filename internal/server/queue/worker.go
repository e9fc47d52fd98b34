package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
)

// Handler processes one job. Returning nil completes it.
type Handler func(ctx context.Context, job Job) error

type WorkerOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Interval:    5 * time.Second,
		BatchSize:   16,
		MaxAttempts: 8,
		BaseDelay:   10 * time.Second,
		MaxDelay:    30 * time.Minute,
	}
}

type Worker struct {
	queue    *Queue
	handlers map[Kind]Handler
	opts     WorkerOptions
	logger   logging.Logger
	running  atomic.Bool
}

func NewWorker(q *Queue, opts WorkerOptions, logger logging.Logger) *Worker {
	return &Worker{
		queue:    q,
		handlers: make(map[Kind]Handler),
		opts:     opts,
		logger:   logger.With("module", "retry_worker"),
	}
}

func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Delay is the backoff before attempt number attempts+1.
func (w *Worker) Delay(attempts int) time.Duration {
	d := w.opts.BaseDelay
	for i := 0; i < attempts && d < w.opts.MaxDelay; i++ {
		d *= 2
	}
	if w.opts.MaxDelay > 0 && d > w.opts.MaxDelay {
		d = w.opts.MaxDelay
	}
	return d
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Starting retry worker", "interval", w.opts.Interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(context.Background(), "Stopping retry worker...")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of due jobs. Overlapping calls are skipped.
func (w *Worker) Tick(ctx context.Context) int {
	if !w.running.CompareAndSwap(false, true) {
		return 0
	}
	defer w.running.Store(false)

	jobs, err := w.queue.Claim(ctx, w.opts.BatchSize)
	if err != nil {
		w.logger.Error(ctx, "claim failed", "error", err)
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs)
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := w.logger.With("kind", job.Kind, "loan_id", job.LoanID, "activity_commitment", job.ActivityCommitment)

	h, ok := w.handlers[job.Kind]
	if !ok {
		log.Error(ctx, "no handler for job, dropping")
		_ = w.queue.Done(ctx, job)
		return
	}

	err := h(ctx, job)
	if err == nil || common.Permanent(err) {
		if err != nil {
			log.Warn(ctx, "job finished without retry", "error", err)
		}
		if derr := w.queue.Done(ctx, job); derr != nil {
			log.Error(ctx, "failed to complete job", "error", derr)
		}
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= w.opts.MaxAttempts {
		log.Error(ctx, "job exhausted its attempts, dropping", "attempts", job.Attempts, "error", err)
		_ = w.queue.Done(ctx, job)
		return
	}

	delay := w.Delay(job.Attempts)
	if rerr := w.queue.Reschedule(ctx, job, delay); rerr != nil {
		log.Error(ctx, "failed to reschedule job", "error", rerr)
		return
	}
	log.Warn(ctx, "job failed, rescheduled", "attempts", job.Attempts, "delay", delay.String(), "error", err)
}
