package vault

import "time"

// EarlyRefreshMargin is how far ahead of the recorded expiry a token is
// already treated as expired, so callers refresh before the provider
// starts rejecting it.
const EarlyRefreshMargin = 60 * time.Second

// TokenSet is the plaintext credential bundle for one linked account.
// It only ever exists in memory; the vault persists it encrypted.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// IsExpired reports whether the access token needs a refresh at the given
// instant. A token with no recorded expiry is treated as expired, forcing
// a refresh attempt.
func (t TokenSet) IsExpired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return !now.Add(EarlyRefreshMargin).Before(t.Expiry)
}
