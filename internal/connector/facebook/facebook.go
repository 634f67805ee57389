// Package facebook implements the Facebook connector: page inventory
// via the Graph API. Facebook issues long-lived access tokens with no
// refresh grant; once one expires the user must relink.
package facebook

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/inventory"
	"github.com/pysugar/linkvault/internal/vault"
)

// Provider is this connector's registry id.
const Provider = "facebook"

// Scopes requested at linkage.
const scopes = "public_profile,email,pages_show_list"

// Connector implements connector.Connector for Facebook.
type Connector struct {
	appID     string
	appSecret string
	vault     connector.TokenVault
	store     connector.InventoryStore
	http      *connector.HTTPClient
	refresher *connector.Refresher

	dialogURL    string
	graphBaseURL string
}

// New creates the Facebook connector.
func New(appID, appSecret string, v connector.TokenVault, store connector.InventoryStore) *Connector {
	hc := connector.NewHTTPClient(Provider, 0)
	c := &Connector{
		appID:        appID,
		appSecret:    appSecret,
		vault:        v,
		store:        store,
		http:         hc,
		dialogURL:    "https://www.facebook.com/v18.0/dialog/oauth",
		graphBaseURL: "https://graph.facebook.com/v18.0",
	}
	// No refresh endpoint: an expired token means ErrReauthRequired.
	c.refresher = connector.NewRefresher(Provider, v, hc, connector.RefreshEndpoint{})
	return c
}

// ID returns "facebook".
func (c *Connector) ID() string { return Provider }

// AuthURL builds the Facebook OAuth dialog URL.
func (c *Connector) AuthURL(_ context.Context, _ string, redirectURI, state string) (string, error) {
	params := url.Values{
		"client_id":     {c.appID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {scopes},
		"response_type": {"code"},
	}
	return c.dialogURL + "?" + params.Encode(), nil
}

// ExchangeCode trades the code via the Graph token endpoint (a GET with
// query parameters, a Facebook quirk), keys the account by /me id,
// stores the token and discovers.
func (c *Connector) ExchangeCode(ctx context.Context, userID, code, redirectURI string) (string, error) {
	params := url.Values{
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.http.GetJSON(ctx, c.graphBaseURL+"/oauth/access_token?"+params.Encode(), "", &token); err != nil {
		return "", fmt.Errorf("facebook token exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("facebook token exchange returned no access token")
	}

	var profile fbProfile
	if err := c.http.GetJSON(ctx, c.graphBaseURL+"/me?fields=id,name,email", token.AccessToken, &profile); err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", fmt.Errorf("%w: facebook /me has no id", connector.ErrIdentityResolution)
	}

	ts := vault.TokenSet{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Scope:       scopes,
	}
	if token.ExpiresIn > 0 {
		ts.Expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	if err := c.vault.UpsertToken(ctx, userID, Provider, profile.ID, ts); err != nil {
		return "", err
	}
	log.Printf("✅ Linked facebook account %s for user %s", profile.ID, userID)

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
	var profile fbProfile
	if err := c.http.GetJSON(ctx, c.graphBaseURL+"/me?fields=id,name,email", ts.AccessToken, &profile); err != nil {
		return false
	}
	return profile.ID != ""
}

// DiscoverInventory lists the pages the account administers. The page
// category degrades to empty on failure; a failed /me fetch is fatal.
func (c *Connector) DiscoverInventory(ctx context.Context, userID, providerAccountID string) error {
	var profile fbProfile
	err := c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, c.graphBaseURL+"/me?fields=id,name,email", accessToken, &profile)
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
	var listing struct {
		Data []map[string]any `json:"data"`
	}
	err = c.refresher.SafeCall(ctx, userID, providerAccountID, func(accessToken string) error {
		return c.http.GetJSON(ctx, c.graphBaseURL+"/me/accounts", accessToken, &listing)
	})
	if err != nil {
		log.Printf("⚠️ Facebook page listing failed for %s, treating as empty: %v", providerAccountID, err)
	} else {
		for _, page := range listing.Data {
			resources = append(resources, inventory.Resource{
				Type: "facebook_page",
				ID:   str(page, "id"),
				Name: str(page, "name"),
				Meta: page,
			})
		}
	}

	return c.store.ReplaceResources(ctx, accountID, resources)
}

type fbProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
