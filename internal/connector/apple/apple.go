// Package apple implements the Apple connector skeleton. Sign in with
// Apple needs a JWT client secret signed with the developer key; until
// that is wired, only the authorization URL and a bare account record
// are supported.
package apple

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/inventory"
)

// Provider is this connector's registry id.
const Provider = "apple"

// Connector implements connector.Connector for Apple.
type Connector struct {
	clientID string
	store    connector.InventoryStore

	authorizeURL string
}

// New creates the Apple connector.
func New(clientID string, store connector.InventoryStore) *Connector {
	return &Connector{
		clientID:     clientID,
		store:        store,
		authorizeURL: "https://appleid.apple.com/auth/authorize",
	}
}

// ID returns "apple".
func (c *Connector) ID() string { return Provider }

// AuthURL builds the Sign in with Apple authorize URL.
func (c *Connector) AuthURL(_ context.Context, _ string, redirectURI, state string) (string, error) {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"name email"},
		"state":         {state},
	}
	return c.authorizeURL + "?" + params.Encode(), nil
}

// ExchangeCode is not yet supported.
// TODO: generate the ES256 client-secret JWT from the developer key and
// exchange against https://appleid.apple.com/auth/token.
func (c *Connector) ExchangeCode(_ context.Context, _, _, _ string) (string, error) {
	return "", fmt.Errorf("apple token exchange requires a JWT client secret, not yet supported")
}

// TestConnection always reports false until token exchange exists.
func (c *Connector) TestConnection(_ context.Context, _, _ string) bool {
	return false
}

// DiscoverInventory records the bare account; Apple exposes no
// enumerable resources through this flow.
func (c *Connector) DiscoverInventory(ctx context.Context, userID, providerAccountID string) error {
	accountID, err := c.store.UpsertAccount(ctx, inventory.AccountParams{
		UserID:            userID,
		Provider:          Provider,
		ProviderAccountID: providerAccountID,
		DisplayName:       "Apple ID",
		RawProfile:        map[string]any{},
	})
	if err != nil {
		return err
	}
	return c.store.ReplaceResources(ctx, accountID, nil)
}
