package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/compozy/kbchat/pkg/logger"
)

// ErrAlreadyRunning rejects a trigger for a source whose previous run has
// not finished.
var ErrAlreadyRunning = errors.New("ingestion already running")

// Job is one ingestion run for a source.
type Job func(ctx context.Context) error

// Runner executes ingestion jobs with at most one in-flight run per source
// and a global bound on concurrent runs.
type Runner struct {
	sem      *semaphore.Weighted
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewRunner(maxConcurrent int64) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		sem:      semaphore.NewWeighted(maxConcurrent),
		inflight: make(map[string]struct{}),
	}
}

func (r *Runner) claim(sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[sourceID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, sourceID)
	}
	r.inflight[sourceID] = struct{}{}
	return nil
}

func (r *Runner) release(sourceID string) {
	r.mu.Lock()
	delete(r.inflight, sourceID)
	r.mu.Unlock()
}

// Running reports whether sourceID has a run in flight.
func (r *Runner) Running(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[sourceID]
	return ok
}

// Run executes job in the caller's goroutine.
func (r *Runner) Run(ctx context.Context, sourceID string, job Job) error {
	if err := r.claim(sourceID); err != nil {
		return err
	}
	defer r.release(sourceID)
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return job(ctx)
}

// Start executes job in the background. The job's context keeps the
// caller's values but is never canceled with it.
func (r *Runner) Start(ctx context.Context, sourceID string, job Job) error {
	if err := r.claim(sourceID); err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(sourceID)
		if err := r.sem.Acquire(bg, 1); err != nil {
			logger.FromContext(bg).Error("Ingestion slot unavailable", "source_id", sourceID, "error", err)
			return
		}
		defer r.sem.Release(1)
		if err := job(bg); err != nil {
			logger.FromContext(bg).Warn("Background ingestion failed", "source_id", sourceID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every background run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
