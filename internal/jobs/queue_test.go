package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestQueue(t *testing.T) (*Queue, *gorm.DB) {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:jobs%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.RediscoveryJob{}, &models.InventoryAccount{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewQueue(db), db
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ID != id {
		t.Fatalf("claimed wrong job: %s != %s", job.ID, id)
	}
	if job.Status != models.JobStatusRunning {
		t.Fatalf("expected running, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempt 1, got %d", job.Attempts)
	}

	// Nothing else is due while the claimed job runs.
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}
}

func TestEnqueue_DefaultReason(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "u1", "google", "acct-1", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var job models.RediscoveryJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Reason != "manual" {
		t.Fatalf("expected default reason manual, got %q", job.Reason)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected max attempts %d, got %d", DefaultMaxAttempts, job.MaxAttempts)
	}
}

func TestMarkSucceeded_RemovesJob(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.MarkSucceeded(ctx, job); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	var count int64
	db.Model(&models.RediscoveryJob{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected empty queue, got %d rows", count)
	}
}

func TestMarkFailed_ReschedulesWithBackoff(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	before := time.Now()
	if err := q.MarkFailed(ctx, job, errors.New("upstream 502")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	var stored models.RediscoveryJob
	if err := db.First(&stored, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if stored.Status != models.JobStatusPending {
		t.Fatalf("expected pending for retry, got %s", stored.Status)
	}
	if stored.LastError != "upstream 502" {
		t.Fatalf("expected last error recorded, got %q", stored.LastError)
	}
	delay := stored.NextRunAt.Sub(before)
	if delay < 55*time.Second || delay > 65*time.Second {
		t.Fatalf("expected ~60s first retry delay, got %v", delay)
	}

	// Deferred job is not due yet.
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob for deferred job, got %v", err)
	}
}

func TestMarkFailed_ExhaustionRetainsJob(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var job *models.RediscoveryJob
	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		// Make the deferred job due again so it can be reclaimed.
		db.Model(&models.RediscoveryJob{}).
			Where("1 = 1").Update("next_run_at", time.Now().Add(-time.Second))
		var err error
		job, err = q.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, job.Attempts)
		}
		if err := q.MarkFailed(ctx, job, errors.New("still broken")); err != nil {
			t.Fatalf("mark failed attempt %d: %v", attempt, err)
		}
	}

	var stored models.RediscoveryJob
	if err := db.First(&stored, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if stored.Status != models.JobStatusFailed {
		t.Fatalf("expected failed after exhaustion, got %s", stored.Status)
	}
	if stored.LastError != "still broken" {
		t.Fatalf("expected last error retained, got %q", stored.LastError)
	}

	// Failed jobs are never redelivered.
	db.Model(&models.RediscoveryJob{}).
		Where("1 = 1").Update("next_run_at", time.Now().Add(-time.Second))
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}
}

func TestClaimNext_ReclaimsExpiredLease(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	var claimed models.RediscoveryJob
	if err := db.First(&claimed, "id = ?", id).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if !claimed.NextRunAt.After(time.Now()) {
		t.Fatalf("claim must push the lease deadline into the future, got %v", claimed.NextRunAt)
	}

	// The owning worker dies without reporting back: once the lease
	// deadline passes someone else picks the job up again.
	db.Model(&models.RediscoveryJob{}).
		Where("id = ?", id).Update("next_run_at", time.Now().Add(-time.Second))

	re, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if re.ID != id {
		t.Fatalf("reclaimed wrong job: %s != %s", re.ID, id)
	}
	if re.Status != models.JobStatusRunning || re.Attempts != 2 {
		t.Fatalf("expected running at attempt 2, got %s attempt %d", re.Status, re.Attempts)
	}
}

func TestClaimNext_ExpiredLeaseExhaustedRetires(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "u1", "google", "acct-1", "manual")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A worker died holding the final attempt.
	db.Model(&models.RediscoveryJob{}).Where("id = ?", id).Updates(map[string]any{
		"status":      models.JobStatusRunning,
		"attempts":    DefaultMaxAttempts,
		"next_run_at": time.Now().Add(-time.Second),
	})

	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}

	var job models.RediscoveryJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.LastError != "worker lease expired" {
		t.Fatalf("expected lease-expiry error recorded, got %q", job.LastError)
	}
}

func TestRetryDelay_Doubles(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 480 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSweepAccounts(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	lister := staticLister{
		{UserID: "u1", Provider: "google", ProviderAccountID: "g-1"},
		{UserID: "u1", Provider: "microsoft", ProviderAccountID: "m-1"},
		{UserID: "u2", Provider: "google", ProviderAccountID: "g-2"},
	}
	n, err := q.SweepAccounts(ctx, lister)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 jobs, got %d", n)
	}

	var jobs []models.RediscoveryJob
	if err := db.Find(&jobs).Error; err != nil {
		t.Fatalf("load jobs: %v", err)
	}
	for _, j := range jobs {
		if j.Reason != "nightly" {
			t.Fatalf("expected nightly reason, got %q", j.Reason)
		}
		if j.Status != models.JobStatusPending {
			t.Fatalf("expected pending, got %q", j.Status)
		}
	}
}

type staticLister []models.InventoryAccount

func (s staticLister) ListAccounts(ctx context.Context) ([]models.InventoryAccount, error) {
	return []models.InventoryAccount(s), nil
}

// stubConnector succeeds or fails on demand and counts calls. With
// started set, discovery signals it and then parks until cancellation.
type stubConnector struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	started chan struct{}
}

func (s *stubConnector) ID() string { return "stub" }

func (s *stubConnector) AuthURL(ctx context.Context, userID, redirectURI, state string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubConnector) ExchangeCode(ctx context.Context, userID, code, redirectURI string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubConnector) TestConnection(ctx context.Context, userID, providerAccountID string) bool {
	return true
}

func (s *stubConnector) DiscoverInventory(ctx context.Context, userID, providerAccountID string) error {
	s.mu.Lock()
	s.calls++
	fail, started := s.fail, s.started
	s.mu.Unlock()

	if started != nil {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("discovery blew up")
	}
	return nil
}

func (s *stubConnector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker_ProcessesJobToCompletion(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	stub := &stubConnector{}
	registry := connector.NewRegistry()
	registry.Register(stub)

	if _, err := q.Enqueue(ctx, "u1", "stub", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(q, registry, 2)
	w.poll = 20 * time.Millisecond
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		var count int64
		db.Model(&models.RediscoveryJob{}).Count(&count)
		return count == 0
	})
	if stub.callCount() != 1 {
		t.Fatalf("expected 1 discovery call, got %d", stub.callCount())
	}
}

func TestWorker_FailureReschedules(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	stub := &stubConnector{fail: true}
	registry := connector.NewRegistry()
	registry.Register(stub)

	if _, err := q.Enqueue(ctx, "u1", "stub", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(q, registry, 1)
	w.poll = 20 * time.Millisecond
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		var job models.RediscoveryJob
		if err := db.First(&job).Error; err != nil {
			return false
		}
		return job.Status == models.JobStatusPending && job.Attempts == 1 && job.LastError != ""
	})
}

func TestWorker_StopRecordsInFlightFailure(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	stub := &stubConnector{started: make(chan struct{})}
	registry := connector.NewRegistry()
	registry.Register(stub)

	if _, err := q.Enqueue(ctx, "u1", "stub", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(q, registry, 1)
	w.poll = 20 * time.Millisecond
	w.Start(ctx)

	select {
	case <-stub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	w.Stop()

	// Shutdown interrupted the run, but the outcome is still recorded:
	// the job goes straight back to pending instead of sitting in
	// running until the lease expires.
	var job models.RediscoveryJob
	if err := db.First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != models.JobStatusPending {
		t.Fatalf("expected pending after interrupted run, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempt 1, got %d", job.Attempts)
	}
	if job.LastError == "" {
		t.Fatal("expected interruption recorded in last_error")
	}
}

func TestWorker_UnknownProviderFails(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "u1", "nonexistent", "acct-1", "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(q, connector.NewRegistry(), 1)
	w.poll = 20 * time.Millisecond
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		var job models.RediscoveryJob
		if err := db.First(&job).Error; err != nil {
			return false
		}
		return job.LastError != ""
	})
}
