package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:oauthstate%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OAuthState{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Single connection serializes writers; sqlite has no row locks.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewStore(db)
}

func TestIssueConsume_HappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(state) != 64 {
		t.Fatalf("expected 64 hex chars (256 bits), got %d", len(state))
	}

	if err := s.Consume(ctx, state, "u1", "google", "https://app/cb"); err != nil {
		t.Fatalf("consume: %v", err)
	}
}

func TestConsume_SingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Consume(ctx, state, "u1", "google", "https://app/cb"); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// Every later attempt fails with "already used", even with otherwise
	// correct parameters.
	if err := s.Consume(ctx, state, "u1", "google", "https://app/cb"); !errors.Is(err, ErrStateUsed) {
		t.Fatalf("expected ErrStateUsed, got %v", err)
	}
	// A mismatched provider on a consumed state still reports "already
	// used", not the provider mismatch.
	if err := s.Consume(ctx, state, "u1", "facebook", "https://app/cb"); !errors.Is(err, ErrStateUsed) {
		t.Fatalf("expected ErrStateUsed over provider mismatch, got %v", err)
	}
}

func TestConsume_CheckOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name        string
		state       string
		user        string
		provider    string
		redirectURI string
		want        error
	}{
		{"unknown state", "deadbeef", "u1", "google", "https://app/cb", ErrStateNotFound},
		{"wrong user", state, "u2", "google", "https://app/cb", ErrStateUserMismatch},
		{"wrong provider", state, "u1", "microsoft", "https://app/cb", ErrStateProviderMismatch},
		{"wrong redirect", state, "u1", "google", "https://evil/cb", ErrStateRedirectMismatch},
		{"user checked before provider", state, "u2", "microsoft", "https://evil/cb", ErrStateUserMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Consume(ctx, tt.state, tt.user, tt.provider, tt.redirectURI); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// None of the failed attempts may have consumed the state.
	if err := s.Consume(ctx, state, "u1", "google", "https://app/cb"); err != nil {
		t.Fatalf("state should still be consumable: %v", err)
	}
}

func TestConsume_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Backdate the expiry: issued at T0 with ttl=10min, consumed at T0+11min.
	past := time.Now().Add(-time.Minute)
	if err := s.db.Model(&models.OAuthState{}).Where("state = ?", state).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}

	if err := s.Consume(ctx, state, "u1", "google", "https://app/cb"); !errors.Is(err, ErrStateExpired) {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Consume(ctx, state, "u1", "google", "https://app/cb")
		}()
	}
	wg.Wait()
	close(results)

	var wins, used int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStateUsed):
			used++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins)
	}
	if used != attempts-1 {
		t.Fatalf("expected %d already-used failures, got %d", attempts-1, used)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.db.Model(&models.OAuthState{}).Where("state = ?", expired).
		Update("expires_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	live, err := s.Issue(ctx, "u1", "google", "https://app/cb", 10*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := s.CleanupExpired(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var count int64
	s.db.Model(&models.OAuthState{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 surviving state, got %d", count)
	}
	if err := s.Consume(ctx, live, "u1", "google", "https://app/cb"); err != nil {
		t.Fatalf("live state should survive cleanup: %v", err)
	}
}
