package models

import "time"

// Token record status values.
const (
	TokenStatusActive   = "active"
	TokenStatusInactive = "inactive"
)

// TokenRecord stores one encrypted OAuth token set, keyed by
// (user, provider, provider account). Plaintext never touches this table;
// the blob columns hold the AES-GCM envelope produced by internal/crypto.
type TokenRecord struct {
	ID                string `gorm:"primaryKey"` // UUID
	UserID            string `gorm:"uniqueIndex:idx_user_provider_account"`
	Provider          string `gorm:"uniqueIndex:idx_user_provider_account"` // e.g., "google", "microsoft"
	ProviderAccountID string `gorm:"uniqueIndex:idx_user_provider_account"`
	IV                []byte
	Tag               []byte
	Ciphertext        []byte
	KeyVersion        int
	Status            string `gorm:"default:active;index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
