// Package vault persists OAuth token sets encrypted at rest, keyed by
// (user, provider, provider account).
package vault

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/linkvault/internal/crypto"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no active token record exists for a key.
var ErrNotFound = errors.New("token not found")

// Vault encrypts token sets on the way in and decrypts on the way out.
// Callers never see ciphertext; storage never sees plaintext.
type Vault struct {
	db  *gorm.DB
	enc *crypto.Encryptor
}

// New creates a vault over the given database and encryptor.
func New(db *gorm.DB, enc *crypto.Encryptor) *Vault {
	return &Vault{db: db, enc: enc}
}

// UpsertToken encrypts and stores the token set for the key, creating or
// overwriting the record. A token set arriving without a refresh token
// never erases a previously stored one: rotation is additive, a provider
// must explicitly issue a new value to replace the old.
func (v *Vault) UpsertToken(ctx context.Context, userID, provider, providerAccountID string, ts TokenSet) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TokenRecord
		err := tx.Where("user_id = ? AND provider = ? AND provider_account_id = ?",
			userID, provider, providerAccountID).First(&existing).Error

		switch {
		case err == nil:
			if ts.RefreshToken == "" {
				var prior TokenSet
				if decErr := v.enc.DecryptJSON(envelopeOf(existing), &prior); decErr == nil && prior.RefreshToken != "" {
					ts.RefreshToken = prior.RefreshToken
				}
			}
			blob, encErr := v.enc.EncryptJSON(ts)
			if encErr != nil {
				return encErr
			}
			existing.IV = blob.IV
			existing.Tag = blob.Tag
			existing.Ciphertext = blob.Ciphertext
			existing.KeyVersion = blob.KeyVersion
			existing.Status = models.TokenStatusActive
			existing.UpdatedAt = time.Now()
			return tx.Save(&existing).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			blob, encErr := v.enc.EncryptJSON(ts)
			if encErr != nil {
				return encErr
			}
			record := models.TokenRecord{
				ID:                uuid.New().String(),
				UserID:            userID,
				Provider:          provider,
				ProviderAccountID: providerAccountID,
				IV:                blob.IV,
				Tag:               blob.Tag,
				Ciphertext:        blob.Ciphertext,
				KeyVersion:        blob.KeyVersion,
				Status:            models.TokenStatusActive,
			}
			return tx.Create(&record).Error

		default:
			return err
		}
	})
}

// GetToken decrypts and returns the active token set for the key.
// Inactive or missing records yield ErrNotFound. A failed integrity check
// surfaces crypto.ErrIntegrity; callers should treat that as
// re-authentication required, not retry.
func (v *Vault) GetToken(ctx context.Context, userID, provider, providerAccountID string) (TokenSet, error) {
	var record models.TokenRecord
	err := v.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND provider_account_id = ? AND status = ?",
			userID, provider, providerAccountID, models.TokenStatusActive).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenSet{}, ErrNotFound
	}
	if err != nil {
		return TokenSet{}, err
	}

	var ts TokenSet
	if err := v.enc.DecryptJSON(envelopeOf(record), &ts); err != nil {
		log.Printf("❌ Vault decryption failed for %s/%s: %v", provider, providerAccountID, err)
		return TokenSet{}, err
	}
	return ts, nil
}

// DisableToken marks the record inactive. The row is kept for audit;
// GetToken fails with ErrNotFound until a new UpsertToken.
func (v *Vault) DisableToken(ctx context.Context, userID, provider, providerAccountID string) error {
	result := v.db.WithContext(ctx).Model(&models.TokenRecord{}).
		Where("user_id = ? AND provider = ? AND provider_account_id = ?",
			userID, provider, providerAccountID).
		Update("status", models.TokenStatusInactive)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	log.Printf("🔒 Token disabled for %s/%s", provider, providerAccountID)
	return nil
}

func envelopeOf(r models.TokenRecord) crypto.Envelope {
	return crypto.Envelope{
		IV:         r.IV,
		Tag:        r.Tag,
		Ciphertext: r.Ciphertext,
		KeyVersion: r.KeyVersion,
	}
}
