// Package jobs provides the durable rediscovery queue: at-least-once
// delivery over a database table, exponential retry backoff, and a
// bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

const (
	// DefaultMaxAttempts is how often a job runs before it is abandoned.
	DefaultMaxAttempts = 5
	// DefaultInitialBackoff is the delay before the first redelivery.
	DefaultInitialBackoff = 60 * time.Second
	// maxBackoffInterval caps the redelivery delay.
	maxBackoffInterval = time.Hour
	// LeaseTimeout is how long a claimed job may run before another
	// worker may assume its owner died and reclaim it.
	LeaseTimeout = 5 * time.Minute
)

// ErrNoJob is returned by ClaimNext when nothing is due.
var ErrNoJob = errors.New("no job due")

// Queue is the durable rediscovery job store.
type Queue struct {
	db *gorm.DB
}

// NewQueue creates a queue over the given database.
func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds one rediscovery work item, runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, userID, provider, providerAccountID, reason string) (string, error) {
	if reason == "" {
		reason = "manual"
	}
	job := models.RediscoveryJob{
		ID:                uuid.New().String(),
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		Reason:            reason,
		Status:            models.JobStatusPending,
		MaxAttempts:       DefaultMaxAttempts,
		NextRunAt:         time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", err
	}
	return job.ID, nil
}

// ClaimNext picks the oldest due job and flips it to running. The
// guarded update is the claim: with several workers polling, each job
// is handed to exactly one of them.
//
// While a job runs, next_run_at holds its lease deadline. A running
// job whose deadline passed belongs to a dead worker and is claimable
// again, so a crash mid-job costs one attempt, never the job itself.
func (q *Queue) ClaimNext(ctx context.Context) (*models.RediscoveryJob, error) {
	for {
		var job models.RediscoveryJob
		now := time.Now()
		err := q.db.WithContext(ctx).
			Where("status IN ? AND next_run_at <= ?",
				[]string{models.JobStatusPending, models.JobStatusRunning}, now).
			Order("next_run_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, err
		}

		if job.Status == models.JobStatusRunning && job.Attempts >= job.MaxAttempts {
			// Expired lease with no attempts left: retire it in place.
			result := q.db.WithContext(ctx).Model(&models.RediscoveryJob{}).
				Where("id = ? AND status = ? AND attempts = ?",
					job.ID, job.Status, job.Attempts).
				Updates(map[string]any{
					"status":     models.JobStatusFailed,
					"last_error": "worker lease expired",
				})
			if result.Error != nil {
				return nil, result.Error
			}
			continue
		}

		result := q.db.WithContext(ctx).Model(&models.RediscoveryJob{}).
			Where("id = ? AND status = ? AND attempts = ?",
				job.ID, job.Status, job.Attempts).
			Updates(map[string]any{
				"status":      models.JobStatusRunning,
				"attempts":    job.Attempts + 1,
				"next_run_at": now.Add(LeaseTimeout),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// Another worker claimed it first; look again.
			continue
		}
		job.Status = models.JobStatusRunning
		job.Attempts++
		return &job, nil
	}
}

// MarkSucceeded removes the finished job from the queue.
func (q *Queue) MarkSucceeded(ctx context.Context, job *models.RediscoveryJob) error {
	return q.db.WithContext(ctx).Delete(&models.RediscoveryJob{}, "id = ?", job.ID).Error
}

// MarkFailed records a failed attempt. Until the attempt limit is hit
// the job goes back to pending with an exponentially grown delay; after
// the limit it is kept with status failed for operator inspection.
func (q *Queue) MarkFailed(ctx context.Context, job *models.RediscoveryJob, cause error) error {
	updates := map[string]any{
		"last_error": cause.Error(),
	}
	if job.Attempts >= job.MaxAttempts {
		updates["status"] = models.JobStatusFailed
	} else {
		updates["status"] = models.JobStatusPending
		updates["next_run_at"] = time.Now().Add(retryDelay(job.Attempts))
	}
	return q.db.WithContext(ctx).Model(&models.RediscoveryJob{}).
		Where("id = ?", job.ID).Updates(updates).Error
}

// retryDelay returns the redelivery delay after the given attempt
// number (1-based): 60s, 120s, 240s, ... capped at an hour.
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoffInterval

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// AccountLister yields every known inventory account for the sweep.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]models.InventoryAccount, error)
}

// SweepAccounts enqueues one "nightly" job per known account. Returns
// the number of jobs enqueued.
func (q *Queue) SweepAccounts(ctx context.Context, lister AccountLister) (int, error) {
	accounts, err := lister.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, acc := range accounts {
		if _, err := q.Enqueue(ctx, acc.UserID, acc.Provider, acc.ProviderAccountID, "nightly"); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}
