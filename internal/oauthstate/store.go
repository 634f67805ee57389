// Package oauthstate issues and consumes the one-time CSRF state tokens
// that bind an authorization request to its callback.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

// DefaultTTL is used when the caller passes a non-positive ttl to Issue.
const DefaultTTL = 10 * time.Minute

// Consume check order is fixed: existence, already-used, user, provider,
// redirect URI, expiry. An already-consumed state reports ErrStateUsed
// even when other parameters also mismatch.
var (
	ErrStateNotFound         = errors.New("invalid state")
	ErrStateUsed             = errors.New("state already used")
	ErrStateUserMismatch     = errors.New("state user mismatch")
	ErrStateProviderMismatch = errors.New("state provider mismatch")
	ErrStateRedirectMismatch = errors.New("state redirect mismatch")
	ErrStateExpired          = errors.New("state expired")
)

// Store persists single-use OAuth states.
type Store struct {
	db *gorm.DB
}

// NewStore creates a state store over the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Issue generates a 256-bit random state token and persists it with an
// absolute expiry of now + ttl. The returned token is embedded in the
// provider authorization URL.
func (s *Store) Issue(ctx context.Context, userID, provider, redirectURI string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	now := time.Now()
	record := models.OAuthState{
		State:       state,
		UserID:      userID,
		Provider:    provider,
		RedirectURI: redirectURI,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return state, nil
}

// Consume validates and atomically marks the state consumed. Concurrent
// consume attempts for the same token admit exactly one winner; every
// other attempt fails with ErrStateUsed. The guarded update on
// consumed_at is the compare-and-set that makes this linearizable.
func (s *Store) Consume(ctx context.Context, state, userID, provider, redirectURI string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.OAuthState
		err := tx.Where("state = ?", state).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStateNotFound
		}
		if err != nil {
			return err
		}

		if record.ConsumedAt != nil {
			return ErrStateUsed
		}
		if record.UserID != userID {
			return ErrStateUserMismatch
		}
		if record.Provider != provider {
			return ErrStateProviderMismatch
		}
		if record.RedirectURI != redirectURI {
			return ErrStateRedirectMismatch
		}
		if time.Now().After(record.ExpiresAt) {
			return ErrStateExpired
		}

		now := time.Now()
		result := tx.Model(&models.OAuthState{}).
			Where("state = ? AND consumed_at IS NULL", state).
			Update("consumed_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent consumer.
			return ErrStateUsed
		}
		return nil
	})
}

// CleanupExpired deletes expired and long-consumed state rows. Pure
// storage hygiene, not required for correctness.
func (s *Store) CleanupExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-24 * time.Hour)
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR (consumed_at IS NOT NULL AND consumed_at < ?)", time.Now(), cutoff).
		Delete(&models.OAuthState{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("🧹 Cleaned up %d expired oauth states", result.RowsAffected)
	}
	return nil
}
