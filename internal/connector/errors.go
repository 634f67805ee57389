package connector

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across every provider implementation. State
// store and identity errors are security conditions, not transient
// failures: they surface to the caller and are never retried internally.
var (
	// ErrNotRegistered means the provider id has no connector.
	ErrNotRegistered = errors.New("connector not registered")

	// ErrReauthRequired means a refresh is impossible (missing or
	// rejected refresh token); the user must relink the account.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrIdentityResolution means the provider identity fetch yielded
	// no usable stable account id.
	ErrIdentityResolution = errors.New("provider identity missing account id")
)

// TransportError is a network failure or non-2xx response from a
// provider endpoint.
type TransportError struct {
	Provider string
	Endpoint string
	Status   int // 0 when the request never completed
	Body     string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: request to %s failed: %s", e.Provider, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("%s: %s returned %d: %s", e.Provider, e.Endpoint, e.Status, e.Body)
}

// IsUnauthorized reports whether err is a provider 401, the trigger for
// the one-shot forced refresh-and-retry.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == http.StatusUnauthorized
}
