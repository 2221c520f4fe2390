package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/port"
)

// claimPollInterval is how long an idle worker waits before polling the
// queue again.
const claimPollInterval = 500 * time.Millisecond

// WorkerPool runs a fixed number of workers per job kind, each pulling tasks
// from the durable queue. Per-kind sizing keeps heavy kinds (compression)
// from starving lightweight ones (thumbnails).
type WorkerPool struct {
	queue       port.JobQueue
	runner      *Runner
	concurrency map[domain.JobKind]int
	group       *errgroup.Group
}

func NewWorkerPool(queue port.JobQueue, runner *Runner, concurrency map[domain.JobKind]int) *WorkerPool {
	return &WorkerPool{
		queue:       queue,
		runner:      runner,
		concurrency: concurrency,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	// Requeue tasks a previous process died holding.
	if err := wp.queue.ResetStalled(); err != nil {
		logger.Error.Printf("failed to reset stalled tasks: %v", err)
	}

	wp.group, ctx = errgroup.WithContext(ctx)

	total := 0
	for kind, workers := range wp.concurrency {
		for i := 0; i < workers; i++ {
			kind, i := kind, i
			wp.group.Go(func() error {
				wp.runWorker(ctx, kind, i)
				return nil
			})
		}
		total += workers
	}
	logger.Info.Printf("started %d workers across %d job kinds", total, len(wp.concurrency))
}

// Wait blocks until every worker has drained after context cancellation.
func (wp *WorkerPool) Wait() {
	if wp.group != nil {
		_ = wp.group.Wait()
	}
}

func (wp *WorkerPool) runWorker(ctx context.Context, kind domain.JobKind, id int) {
	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("%s worker %d shutting down", kind, id)
			return
		default:
		}

		task, err := wp.queue.Claim(kind)
		if err != nil {
			logger.Error.Printf("%s worker %d: claim failed: %v", kind, id, err)
			sleepCtx(ctx, 2*time.Second)
			continue
		}
		if task == nil {
			sleepCtx(ctx, claimPollInterval)
			continue
		}

		logger.Info.Printf("%s worker %d: task %s (job=%s, attempt=%d)", kind, id, task.ID, task.JobID, task.Attempts)
		wp.processTask(ctx, task)
	}
}

// processTask acknowledges the task according to the runner's outcome.
// Execution failures are finalized on the job inside the runner and the task
// completes; only infrastructure errors fail the task back to the queue so
// redelivery can retry the whole thing.
func (wp *WorkerPool) processTask(ctx context.Context, task *domain.Task) {
	err := wp.runner.Run(ctx, task)
	if err != nil {
		logger.Error.Printf("task %s (job=%s) hit infrastructure error: %v", task.ID, task.JobID, err)
		requeued, failErr := wp.queue.Fail(task.ID, err.Error())
		if failErr != nil {
			logger.Error.Printf("task %s: fail bookkeeping error: %v", task.ID, failErr)
			return
		}
		if !requeued {
			// Attempts exhausted; surface the infrastructure error as
			// the job's failure so it does not stay processing forever.
			logger.Error.Printf("task %s (job=%s) out of attempts", task.ID, task.JobID)
			_ = wp.runner.failJob(ctx, task.JobID, "processing aborted: "+err.Error())
		}
		return
	}

	if err := wp.queue.Complete(task.ID); err != nil {
		logger.Error.Printf("task %s: complete bookkeeping error: %v", task.ID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
