package connector

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/pysugar/linkvault/internal/vault"
	"golang.org/x/sync/singleflight"
)

// RefreshEndpoint describes a provider's token-refresh endpoint. An
// empty TokenURL means the provider has no refresh grant; an expired
// token there is immediately ErrReauthRequired.
type RefreshEndpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// tokenResponse is the standard OAuth token endpoint response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token"`
}

// Refresher implements the cross-cutting refresh protocol for one
// provider: early-margin expiry check, rotation-safe refresh, and the
// one-shot 401 recovery. Concurrent refreshes for the same
// (user, account) key are collapsed through singleflight so two callers
// can never race to rotate the refresh token against each other.
type Refresher struct {
	provider string
	vault    TokenVault
	http     *HTTPClient
	endpoint RefreshEndpoint
	group    singleflight.Group
}

// NewRefresher builds the refresh machinery for one provider.
func NewRefresher(provider string, v TokenVault, hc *HTTPClient, ep RefreshEndpoint) *Refresher {
	return &Refresher{provider: provider, vault: v, http: hc, endpoint: ep}
}

// ValidToken returns a non-expired token set for the key, refreshing
// first when the stored one is expired or has no recorded expiry.
func (r *Refresher) ValidToken(ctx context.Context, userID, providerAccountID string) (vault.TokenSet, error) {
	ts, err := r.vault.GetToken(ctx, userID, r.provider, providerAccountID)
	if err != nil {
		return vault.TokenSet{}, err
	}
	if !ts.IsExpired(time.Now()) {
		return ts, nil
	}
	return r.refresh(ctx, userID, providerAccountID, false)
}

// ForceRefresh refreshes regardless of the recorded expiry. Used by the
// 401 recovery path.
func (r *Refresher) ForceRefresh(ctx context.Context, userID, providerAccountID string) (vault.TokenSet, error) {
	return r.refresh(ctx, userID, providerAccountID, true)
}

func (r *Refresher) refresh(ctx context.Context, userID, providerAccountID string, force bool) (vault.TokenSet, error) {
	key := userID + "|" + providerAccountID
	result, err, _ := r.group.Do(key, func() (any, error) {
		// Re-read after acquiring the flight: a concurrent refresh may
		// already have rotated the token while we waited.
		ts, err := r.vault.GetToken(ctx, userID, r.provider, providerAccountID)
		if err != nil {
			return vault.TokenSet{}, err
		}
		if !force && !ts.IsExpired(time.Now()) {
			return ts, nil
		}

		if ts.RefreshToken == "" || r.endpoint.TokenURL == "" {
			return vault.TokenSet{}, ErrReauthRequired
		}

		var resp tokenResponse
		form := url.Values{
			"client_id":     {r.endpoint.ClientID},
			"client_secret": {r.endpoint.ClientSecret},
			"refresh_token": {ts.RefreshToken},
			"grant_type":    {"refresh_token"},
		}
		if err := r.http.PostForm(ctx, r.endpoint.TokenURL, form, &resp); err != nil {
			log.Printf("❌ Refresh failed for %s/%s: %v", r.provider, providerAccountID, err)
			return vault.TokenSet{}, err
		}

		updated := vault.TokenSet{
			AccessToken:  resp.AccessToken,
			RefreshToken: ts.RefreshToken,
			Scope:        ts.Scope,
			TokenType:    ts.TokenType,
			IDToken:      ts.IDToken,
			Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		}
		// Rotate only what the provider explicitly re-issued.
		if resp.RefreshToken != "" {
			updated.RefreshToken = resp.RefreshToken
		}
		if resp.Scope != "" {
			updated.Scope = resp.Scope
		}
		if resp.TokenType != "" {
			updated.TokenType = resp.TokenType
		}
		if resp.IDToken != "" {
			updated.IDToken = resp.IDToken
		}

		if err := r.vault.UpsertToken(ctx, userID, r.provider, providerAccountID, updated); err != nil {
			return vault.TokenSet{}, err
		}
		log.Printf("✅ Refreshed token for %s/%s (expires: %s)",
			r.provider, providerAccountID, updated.Expiry.Format(time.RFC3339))
		return updated, nil
	})
	if err != nil {
		return vault.TokenSet{}, err
	}
	return result.(vault.TokenSet), nil
}

// SafeCall runs fn with a valid access token. A 401-equivalent failure
// triggers exactly one forced refresh-and-retry of the same call; a
// second failure propagates unchanged.
func (r *Refresher) SafeCall(ctx context.Context, userID, providerAccountID string, fn func(accessToken string) error) error {
	ts, err := r.ValidToken(ctx, userID, providerAccountID)
	if err != nil {
		return err
	}
	err = fn(ts.AccessToken)
	if err == nil || !IsUnauthorized(err) {
		return err
	}

	log.Printf("🔄 401 from %s, forcing refresh for %s", r.provider, providerAccountID)
	refreshed, rerr := r.ForceRefresh(ctx, userID, providerAccountID)
	if rerr != nil {
		return rerr
	}
	return fn(refreshed.AccessToken)
}
