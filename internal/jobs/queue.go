package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hallqvist/lyssna/internal/observe"
)

// Runner executes one job. It reports progress through the store and returns
// the result document to persist; a non-nil error fails the job.
type Runner interface {
	Run(ctx context.Context, job *Job) (any, error)
}

// Queue feeds persisted jobs to a Runner with bounded concurrency. Jobs
// survive restarts: anything non-terminal in the store is re-queued on
// Start.
type Queue struct {
	store   *Store
	runner  Runner
	sem     *semaphore.Weighted
	metrics *observe.Metrics

	pending chan string
	wg      sync.WaitGroup
}

// queueBuffer bounds how many job IDs can wait in memory. Submissions beyond
// this block the HTTP handler briefly rather than dropping jobs.
const queueBuffer = 256

// NewQueue builds a queue running at most maxConcurrent jobs at once.
func NewQueue(store *Store, runner Runner, maxConcurrent int, metrics *observe.Metrics) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Queue{
		store:   store,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		metrics: metrics,
		pending: make(chan string, queueBuffer),
	}
}

// Start launches the dispatch loop and re-queues jobs left unfinished by a
// previous run. Call Wait after cancelling ctx to drain in-flight jobs.
func (q *Queue) Start(ctx context.Context) error {
	stale, err := q.store.Unfinished()
	if err != nil {
		return err
	}
	for i := range stale {
		job := stale[i]
		slog.Info("re-queueing unfinished job", "job_id", job.ID, "status", job.Status)
		if err := q.Submit(ctx, job.ID); err != nil {
			slog.Warn("failed to re-queue job", "job_id", job.ID, "error", err)
		}
	}

	q.wg.Add(1)
	go q.dispatch(ctx)
	return nil
}

// Submit queues a job ID for execution. The job must already exist in the
// store.
func (q *Queue) Submit(ctx context.Context, jobID string) error {
	if err := q.store.SetStatus(jobID, StatusQueued, "queued"); err != nil {
		return err
	}
	select {
	case q.pending <- jobID:
		q.metrics.QueueDepth.Add(ctx, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of jobs waiting in memory.
func (q *Queue) Depth() int {
	return len(q.pending)
}

// Wait blocks until the dispatch loop and all in-flight jobs have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.pending:
			q.metrics.QueueDepth.Add(ctx, -1)
			if err := q.sem.Acquire(ctx, 1); err != nil {
				return
			}
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				defer q.sem.Release(1)
				q.execute(ctx, jobID)
			}()
		}
	}
}

func (q *Queue) execute(ctx context.Context, jobID string) {
	job, err := q.store.Get(jobID)
	if err != nil {
		slog.Error("queued job vanished", "job_id", jobID, "error", err)
		return
	}
	if job.Terminal() {
		return
	}

	if err := q.store.SetStatus(job.ID, StatusRunning, "starting"); err != nil {
		slog.Error("failed to mark job running", "job_id", job.ID, "error", err)
		return
	}

	start := time.Now()
	result, err := q.runner.Run(ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("job failed", "job_id", job.ID, "type", job.JobType,
			"duration", elapsed, "error", err)
		if serr := q.store.Fail(job.ID, err.Error()); serr != nil {
			slog.Error("failed to persist job failure", "job_id", job.ID, "error", serr)
		}
		q.metrics.RecordJobFinished(ctx, StatusFailed)
		return
	}

	if err := q.store.Complete(job.ID, result); err != nil {
		slog.Error("failed to persist job result", "job_id", job.ID, "error", err)
		q.metrics.RecordJobFinished(ctx, StatusFailed)
		return
	}
	q.metrics.RecordJobFinished(ctx, StatusCompleted)
	slog.Info("job completed", "job_id", job.ID, "type", job.JobType, "duration", elapsed)
}
