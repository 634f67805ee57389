package models

import "time"

// InventoryAccount is one linked external account. The natural key is
// (user, provider, provider account id); repeated linkage updates metadata
// in place rather than duplicating the row.
type InventoryAccount struct {
	ID                string `gorm:"primaryKey"` // UUID
	UserID            string `gorm:"uniqueIndex:idx_inv_user_provider_account"`
	Provider          string `gorm:"uniqueIndex:idx_inv_user_provider_account"`
	ProviderAccountID string `gorm:"uniqueIndex:idx_inv_user_provider_account"`
	DisplayName       string
	PrimaryEmail      string
	RawProfile        string // JSON blob, provider-shaped
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InventoryResource is one discovered resource (a drive, a calendar, a
// mail label, a social page) belonging to an InventoryAccount. The set of
// rows per account is fully replaced on every discovery.
type InventoryResource struct {
	ID           string `gorm:"primaryKey"` // UUID
	AccountID    string `gorm:"index"`
	ResourceType string // e.g., "drive", "calendar", "gmail_label"
	ResourceID   string // provider-assigned
	Name         string
	Meta         string // JSON blob
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
