// Package connector defines the four-operation provider contract
// (authorize, exchange, refresh, discover) and the shared machinery every
// provider implementation uses: the registry, the refresh protocol, and
// the provider HTTP client.
package connector

import (
	"context"
	"fmt"

	"github.com/pysugar/linkvault/internal/inventory"
	"github.com/pysugar/linkvault/internal/vault"
)

// Connector is the capability set every provider implements. Nothing
// else: this is deliberately not a workflow engine.
type Connector interface {
	// ID returns the provider identifier ("google", "microsoft", ...).
	ID() string

	// AuthURL builds the provider authorization URL embedding client id,
	// redirect URI, scopes, response type "code" and the CSRF state.
	// Pure, no side effects. Providers that only issue a refresh token
	// on first consent must request whatever flags force one.
	AuthURL(ctx context.Context, userID, redirectURI, state string) (string, error)

	// ExchangeCode trades the authorization code for tokens, resolves a
	// stable provider account id from the provider identity endpoint,
	// stores the token set in the vault, and runs an initial discovery.
	// Exchange failure is a hard error; the caller controls retries.
	ExchangeCode(ctx context.Context, userID, code, redirectURI string) (providerAccountID string, err error)

	// TestConnection is a best-effort liveness check. Any failure yields
	// false, never an error.
	TestConnection(ctx context.Context, userID, providerAccountID string) bool

	// DiscoverInventory loads the current token (refreshing first if
	// needed), enumerates the provider's resources, and reconciles them
	// into storage. A failed resource category degrades to an empty
	// list; a failed identity fetch is fatal to the whole operation.
	DiscoverInventory(ctx context.Context, userID, providerAccountID string) error
}

// TokenVault is the credential collaborator connectors depend on.
// Implemented by internal/vault.
type TokenVault interface {
	UpsertToken(ctx context.Context, userID, provider, providerAccountID string, ts vault.TokenSet) error
	GetToken(ctx context.Context, userID, provider, providerAccountID string) (vault.TokenSet, error)
	DisableToken(ctx context.Context, userID, provider, providerAccountID string) error
}

// InventoryStore is the reconciliation collaborator connectors depend on.
// Implemented by internal/inventory.
type InventoryStore interface {
	UpsertAccount(ctx context.Context, p inventory.AccountParams) (string, error)
	ReplaceResources(ctx context.Context, accountID string, resources []inventory.Resource) error
}

// Registry maps provider id to connector. Populated once at startup,
// read-only afterwards.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its own id.
func (r *Registry) Register(c Connector) {
	r.connectors[c.ID()] = c
}

// Get returns the connector for the provider id. Lookup failure is fatal
// to the caller.
func (r *Registry) Get(provider string) (Connector, error) {
	c, ok := r.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, provider)
	}
	return c, nil
}

// Providers returns the registered provider ids.
func (r *Registry) Providers() []string {
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	return ids
}
