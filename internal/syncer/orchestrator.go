package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessFunc handles one worklist item.
type ProcessFunc func(ctx context.Context, item string) error

// ProgressFunc observes completion of each item. current is monotonically
// increasing and reaches total unless the run is cancelled.
type ProgressFunc func(current, total int)

// Orchestrator walks a worklist in sequential chunks of batchSize,
// processing items within a chunk concurrently. One failing item never
// aborts the run; failures are collected per item. Between chunks it
// sleeps batchDelay so bursts stay within what the upstream throttle can
// absorb.
type Orchestrator struct {
	batchSize  int
	batchDelay time.Duration
	tracker    *Tracker
	logger     *zap.Logger
}

func NewOrchestrator(batchSize int, batchDelay time.Duration, tracker *Tracker, logger *zap.Logger) *Orchestrator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Orchestrator{
		batchSize:  batchSize,
		batchDelay: batchDelay,
		tracker:    tracker,
		logger:     logger,
	}
}

// NewJob registers a pending job for the worklist and returns it. The
// caller decides when (and on which goroutine) to Run it.
func (o *Orchestrator) NewJob(items []string) *Job {
	job := newJob(items)
	o.tracker.add(job)
	return job
}

// Run executes the job to completion or cancellation and returns the
// aggregate result. Cancelling via job.Cancel (or the parent context)
// stops dispatch of new chunks; the in-flight chunk finishes.
func (o *Orchestrator) Run(ctx context.Context, job *Job, process ProcessFunc, onProgress ProgressFunc) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	job.setCancel(cancel)
	job.mu.Lock()
	job.state = StateRunning
	job.startedAt = time.Now()
	items := job.items
	job.mu.Unlock()

	o.logger.Info("sync job started",
		zap.String("job", job.ID),
		zap.Int("items", len(items)),
		zap.Int("batchSize", o.batchSize),
	)

	stopped := false
	for start := 0; start < len(items); start += o.batchSize {
		if ctx.Err() != nil {
			stopped = true
			break
		}

		end := start + o.batchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item string) {
				defer wg.Done()
				err := process(ctx, item)
				o.finishItem(job, item, err, onProgress)
			}(item)
		}
		wg.Wait()

		if end < len(items) {
			select {
			case <-ctx.Done():
				stopped = true
			case <-time.After(o.batchDelay):
			}
			if stopped {
				break
			}
		}
	}

	job.setCancel(nil)
	job.mu.Lock()
	if stopped {
		job.state = StateStopped
	} else {
		job.state = StateCompleted
	}
	job.finishedAt = time.Now()
	job.mu.Unlock()

	result := job.result()
	o.logger.Info("sync job finished",
		zap.String("job", job.ID),
		zap.String("state", string(job.Snapshot().State)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result
}

// finishItem records one item's outcome and reports progress. The progress
// callback runs under the job lock so observers see strictly increasing
// counts.
func (o *Orchestrator) finishItem(job *Job, item string, err error, onProgress ProgressFunc) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if err != nil {
		job.failed++
		job.errors = append(job.errors, ItemError{Item: item, Message: err.Error()})
		o.logger.Warn("sync item failed",
			zap.String("job", job.ID),
			zap.String("item", item),
			zap.Error(err),
		)
	} else {
		job.succeeded++
	}
	job.processed++

	if onProgress != nil {
		onProgress(job.processed, len(job.items))
	}
}
