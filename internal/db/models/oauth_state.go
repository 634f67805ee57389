package models

import "time"

// OAuthState is a single-use CSRF artifact binding an authorization
// request to its callback. Consumption is logical (ConsumedAt set), never
// a row delete, so replay attempts stay observable.
type OAuthState struct {
	State       string `gorm:"primaryKey"` // 32 random bytes, hex
	UserID      string `gorm:"index"`
	Provider    string
	RedirectURI string
	IssuedAt    time.Time
	ExpiresAt   time.Time `gorm:"index"`
	ConsumedAt  *time.Time
}
