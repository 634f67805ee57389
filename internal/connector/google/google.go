// Package google implements the Google connector: Drive, Calendar and
// Gmail label inventory over OAuth tokens held in the vault.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/inventory"
	"github.com/pysugar/linkvault/internal/vault"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Provider is this connector's registry id.
const Provider = "google"

// Scopes requested at linkage. Read-only resource scopes plus identity.
var Scopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/gmail.labels",
}

// Connector implements connector.Connector for Google.
type Connector struct {
	clientID     string
	clientSecret string
	vault        connector.TokenVault
	store        connector.InventoryStore
	http         *connector.HTTPClient
	refresher    *connector.Refresher

	// Endpoints are fields so tests can point them at a local server.
	oauthEndpoint oauth2.Endpoint
	userinfoURL   string
	drivesURL     string
	calendarsURL  string
	labelsURL     string
}

// New creates the Google connector.
func New(clientID, clientSecret string, v connector.TokenVault, store connector.InventoryStore) *Connector {
	hc := connector.NewHTTPClient(Provider, 0)
	c := &Connector{
		clientID:      clientID,
		clientSecret:  clientSecret,
		vault:         v,
		store:         store,
		http:          hc,
		oauthEndpoint: googleoauth.Endpoint,
		userinfoURL:   "https://openidconnect.googleapis.com/v1/userinfo",
		drivesURL:     "https://www.googleapis.com/drive/v3/drives?pageSize=100",
		calendarsURL:  "https://www.googleapis.com/calendar/v3/users/me/calendarList",
		labelsURL:     "https://gmail.googleapis.com/gmail/v1/users/me/labels",
	}
	c.refresher = connector.NewRefresher(Provider, v, hc, connector.RefreshEndpoint{
		TokenURL:     googleoauth.Endpoint.TokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	return c
}

// ID returns "google".
func (c *Connector) ID() string { return Provider }

func (c *Connector) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint:     c.oauthEndpoint,
	}
}

// AuthURL builds the consent URL. Offline access plus forced consent
// guarantees Google issues a refresh token on first linkage.
func (c *Connector) AuthURL(_ context.Context, _ string, redirectURI, state string) (string, error) {
	cfg := c.oauthConfig(redirectURI)
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode trades the authorization code, resolves the stable
// account id from userinfo, stores the token set, and runs the initial
// discovery.
func (c *Connector) ExchangeCode(ctx context.Context, userID, code, redirectURI string) (string, error) {
	cfg := c.oauthConfig(redirectURI)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("google token exchange failed: %w", err)
	}

	var profile userInfo
	if err := c.http.GetJSON(ctx, c.userinfoURL, token.AccessToken, &profile); err != nil {
		return "", err
	}
	providerAccountID := profile.Sub
	if providerAccountID == "" {
		providerAccountID = profile.Email
	}
	if providerAccountID == "" {
		return "", fmt.Errorf("%w: google userinfo has neither sub nor email", connector.ErrIdentityResolution)
	}

	idToken, _ := token.Extra("id_token").(string)
	ts := vault.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        strings.Join(Scopes, " "),
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		IDToken:      idToken,
	}
	if err := c.vault.UpsertToken(ctx, userID, Provider, providerAccountID, ts); err != nil {
		return "", err
	}
	log.Printf("✅ Linked google account %s for user %s", providerAccountID, userID)

	if err := c.DiscoverInventory(ctx, userID, providerAccountID); err != nil {
		return "", err
	}
	return providerAccountID, nil
}

// TestConnection is best-effort: any failure yields false.
func (c *Connector) TestConnection(ctx context.Context, userID, providerAccountID string) bool {
	ts, err := c.refresher.ValidToken(ctx, userID, providerAccountID)
	if err != nil {
		return false
	}
	var profile userInfo
	if err := c.http.GetJSON(ctx, c.userinfoURL, ts.AccessToken, &profile); err != nil {
		return false
	}
	return profile.Sub != "" || profile.Email != ""
}

// DiscoverInventory enumerates drives, calendars and mail labels and
// reconciles them. A failed category degrades to an empty list; only a
// failed identity fetch aborts the whole discovery.
func (c *Connector) DiscoverInventory(ctx context.Context, userID, providerAccountID string) error {
	var profile userInfo
	err := c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, c.userinfoURL, accessToken, &profile)
	})
	if err != nil {
		return err
	}

	accountID, err := c.store.UpsertAccount(ctx, inventory.AccountParams{
		UserID:            userID,
		Provider:          Provider,
		ProviderAccountID: providerAccountID,
		DisplayName:       profile.Name,
		PrimaryEmail:      profile.Email,
		RawProfile:        profile,
	})
	if err != nil {
		return err
	}

	var resources []inventory.Resource
	resources = append(resources, c.fetchCategory(ctx, userID, providerAccountID, "drive", c.drivesURL, "drives", "name")...)
	resources = append(resources, c.fetchCategory(ctx, userID, providerAccountID, "calendar", c.calendarsURL, "items", "summary")...)
	resources = append(resources, c.fetchCategory(ctx, userID, providerAccountID, "gmail_label", c.labelsURL, "labels", "name")...)

	return c.store.ReplaceResources(ctx, accountID, resources)
}

// fetchCategory lists one resource category. Failures degrade to nil so
// one unavailable API does not abort the other categories.
func (c *Connector) fetchCategory(ctx context.Context, userID, providerAccountID, resourceType, endpoint, listKey, nameKey string) []inventory.Resource {
	var payload map[string]json.RawMessage
	err := c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, endpoint, accessToken, &payload)
	})
	if err != nil {
		log.Printf("⚠️ Google %s listing failed for %s, treating as empty: %v", resourceType, providerAccountID, err)
		return nil
	}

	var items []map[string]any
	if raw, ok := payload[listKey]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			log.Printf("⚠️ Google %s listing malformed for %s, treating as empty: %v", resourceType, providerAccountID, err)
			return nil
		}
	}
	resources := make([]inventory.Resource, 0, len(items))
	for _, item := range items {
		resources = append(resources, inventory.Resource{
			Type: resourceType,
			ID:   str(item, "id"),
			Name: str(item, nameKey),
			Meta: item,
		})
	}
	return resources
}

type userInfo struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
