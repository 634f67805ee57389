package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/db/models"
)

const (
	// DefaultConcurrency is the number of goroutines draining the queue.
	DefaultConcurrency = 5
	// defaultPollInterval is how long an idle worker sleeps between polls.
	defaultPollInterval = 2 * time.Second
)

// Worker drains the rediscovery queue with a fixed-size pool. Each job
// resolves its connector from the registry and re-runs inventory
// discovery for the linked account.
type Worker struct {
	queue       *Queue
	registry    *connector.Registry
	concurrency int
	poll        time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a worker pool. concurrency <= 0 selects the default.
func NewWorker(queue *Queue, registry *connector.Registry, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		queue:       queue,
		registry:    registry,
		concurrency: concurrency,
		poll:        defaultPollInterval,
	}
}

// Start launches the pool. Workers run until Stop is called or the
// parent context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	log.Printf("🔄 Rediscovery worker pool started (concurrency: %d)", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.ClaimNext(ctx)
		if err != nil {
			if err != ErrNoJob && ctx.Err() == nil {
				log.Printf("❌ Job claim failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.poll):
			}
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *models.RediscoveryJob) {
	err := w.discover(ctx, job)

	// The outcome must land in the queue even when Stop cancelled the
	// pool mid-job; otherwise the claim lease has to expire first.
	book := context.WithoutCancel(ctx)
	if err == nil {
		if derr := w.queue.MarkSucceeded(book, job); derr != nil {
			log.Printf("⚠️  Failed to remove finished job %s: %v", job.ID, derr)
		}
		log.Printf("✅ Rediscovery done: %s/%s (reason: %s, attempt %d)",
			job.Provider, job.ProviderAccountID, job.Reason, job.Attempts)
		return
	}

	if merr := w.queue.MarkFailed(book, job, err); merr != nil {
		log.Printf("❌ Failed to record job failure for %s: %v", job.ID, merr)
		return
	}
	if job.Attempts >= job.MaxAttempts {
		log.Printf("❌ Rediscovery abandoned after %d attempts: %s/%s: %v",
			job.Attempts, job.Provider, job.ProviderAccountID, err)
	} else {
		log.Printf("⚠️  Rediscovery attempt %d/%d failed, will retry: %s/%s: %v",
			job.Attempts, job.MaxAttempts, job.Provider, job.ProviderAccountID, err)
	}
}

func (w *Worker) discover(ctx context.Context, job *models.RediscoveryJob) error {
	conn, err := w.registry.Get(job.Provider)
	if err != nil {
		return fmt.Errorf("resolve connector: %w", err)
	}
	return conn.DiscoverInventory(ctx, job.UserID, job.ProviderAccountID)
}
