// Package microsoft implements the Microsoft connector: Outlook
// calendar inventory via the Graph API.
package microsoft

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/inventory"
	"github.com/pysugar/linkvault/internal/vault"
	"golang.org/x/oauth2"
	microsoftoauth "golang.org/x/oauth2/microsoft"
)

// Provider is this connector's registry id.
const Provider = "microsoft"

// Scopes requested at linkage. offline_access is what makes the token
// endpoint issue a refresh token.
var Scopes = []string{
	"offline_access",
	"User.Read",
	"Calendars.Read",
}

// Connector implements connector.Connector for Microsoft.
type Connector struct {
	clientID     string
	clientSecret string
	vault        connector.TokenVault
	store        connector.InventoryStore
	http         *connector.HTTPClient
	refresher    *connector.Refresher

	oauthEndpoint oauth2.Endpoint
	graphBaseURL  string
}

// New creates the Microsoft connector against the common (multi-tenant)
// endpoint.
func New(clientID, clientSecret string, v connector.TokenVault, store connector.InventoryStore) *Connector {
	hc := connector.NewHTTPClient(Provider, 0)
	endpoint := microsoftoauth.AzureADEndpoint("common")
	c := &Connector{
		clientID:      clientID,
		clientSecret:  clientSecret,
		vault:         v,
		store:         store,
		http:          hc,
		oauthEndpoint: endpoint,
		graphBaseURL:  "https://graph.microsoft.com/v1.0",
	}
	c.refresher = connector.NewRefresher(Provider, v, hc, connector.RefreshEndpoint{
		TokenURL:     endpoint.TokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	return c
}

// ID returns "microsoft".
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

// AuthURL builds the Azure AD authorize URL.
func (c *Connector) AuthURL(_ context.Context, _ string, redirectURI, state string) (string, error) {
	cfg := c.oauthConfig(redirectURI)
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query")), nil
}

// ExchangeCode trades the code, keys the account by the Graph /me id,
// stores tokens and discovers.
func (c *Connector) ExchangeCode(ctx context.Context, userID, code, redirectURI string) (string, error) {
	cfg := c.oauthConfig(redirectURI)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("microsoft token exchange failed: %w", err)
	}

	var profile graphProfile
	if err := c.http.GetJSON(ctx, c.graphBaseURL+"/me", token.AccessToken, &profile); err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", fmt.Errorf("%w: graph /me has no id", connector.ErrIdentityResolution)
	}

	ts := vault.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        strings.Join(Scopes, " "),
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if err := c.vault.UpsertToken(ctx, userID, Provider, profile.ID, ts); err != nil {
		return "", err
	}
	log.Printf("✅ Linked microsoft account %s for user %s", profile.ID, userID)

	if err := c.DiscoverInventory(ctx, userID, profile.ID); err != nil {
		return "", err
	}
	return profile.ID, nil
}

// TestConnection is best-effort: any failure yields false.
func (c *Connector) TestConnection(ctx context.Context, userID, providerAccountID string) bool {
	ts, err := c.refresher.ValidToken(ctx, userID, providerAccountID)
	if err != nil {
		return false
	}
	var profile graphProfile
	if err := c.http.GetJSON(ctx, c.graphBaseURL+"/me", ts.AccessToken, &profile); err != nil {
		return false
	}
	return profile.ID != ""
}

// DiscoverInventory lists Outlook calendars for the account. The
// calendar category degrades to empty on failure; a failed /me fetch is
// fatal.
func (c *Connector) DiscoverInventory(ctx context.Context, userID, providerAccountID string) error {
	var profile graphProfile
	err := c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, c.graphBaseURL+"/me", accessToken, &profile)
	})
	if err != nil {
		return err
	}

	accountID, err := c.store.UpsertAccount(ctx, inventory.AccountParams{
		UserID:            userID,
		Provider:          Provider,
		ProviderAccountID: providerAccountID,
		DisplayName:       profile.DisplayName,
		PrimaryEmail:      profile.Mail,
		RawProfile:        profile,
	})
	if err != nil {
		return err
	}

	var resources []inventory.Resource
	var listing struct {
		Value []map[string]any `json:"value"`
	}
	err = c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, c.graphBaseURL+"/me/calendars", accessToken, &listing)
	})
	if err != nil {
		log.Printf("⚠️ Graph calendar listing failed for %s, treating as empty: %v", providerAccountID, err)
	} else {
		for _, cal := range listing.Value {
			resources = append(resources, inventory.Resource{
				Type: "outlook_calendar",
				ID:   str(cal, "id"),
				Name: str(cal, "name"),
				Meta: cal,
			})
		}
	}

	return c.store.ReplaceResources(ctx, accountID, resources)
}

type graphProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
