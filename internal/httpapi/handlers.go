// Package httpapi exposes the connect flow over HTTP. Handlers are
// thin: parse, delegate to the service, map errors to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/crypto"
	"github.com/pysugar/linkvault/internal/oauthstate"
	"github.com/pysugar/linkvault/internal/service"
	"github.com/pysugar/linkvault/internal/vault"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var transport *connector.TransportError
	switch {
	case errors.Is(err, connector.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, oauthstate.ErrStateUsed):
		return http.StatusConflict
	case errors.Is(err, oauthstate.ErrStateNotFound),
		errors.Is(err, oauthstate.ErrStateExpired),
		errors.Is(err, oauthstate.ErrStateUserMismatch),
		errors.Is(err, oauthstate.ErrStateProviderMismatch),
		errors.Is(err, oauthstate.ErrStateRedirectMismatch):
		return http.StatusBadRequest
	case errors.Is(err, connector.ErrReauthRequired),
		errors.Is(err, crypto.ErrIntegrity):
		// An undecryptable stored token is as dead as a revoked one;
		// both mean the user has to relink the account.
		return http.StatusUnauthorized
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userID pulls the caller identity from the X-User-ID header. An empty
// value short-circuits with 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-User-ID header"})
		return "", false
	}
	return id, true
}

// ProvidersHandler lists the registered provider ids.
func ProvidersHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"providers": svc.Providers()})
	}
}

// AuthorizeHandler starts the connect flow: it mints a state and
// returns the provider authorization URL.
func AuthorizeHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		provider := chi.URLParam(r, "provider")
		redirectURI := r.URL.Query().Get("redirect_uri")
		if redirectURI == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing redirect_uri"})
			return
		}

		authURL, err := svc.IssueAuthURL(r.Context(), user, provider, redirectURI)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
	}
}

// CallbackHandler finishes the connect flow from the provider redirect.
func CallbackHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		provider := chi.URLParam(r, "provider")
		q := r.URL.Query()
		state, code, redirectURI := q.Get("state"), q.Get("code"), q.Get("redirect_uri")
		if state == "" || code == "" || redirectURI == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing state, code or redirect_uri"})
			return
		}

		accountID, err := svc.CompleteExchange(r.Context(), user, provider, redirectURI, state, code)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"provider":            provider,
			"provider_account_id": accountID,
		})
	}
}

// TestConnectionHandler reports account liveness.
func TestConnectionHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		provider := chi.URLParam(r, "provider")
		accountID := chi.URLParam(r, "accountID")
		connected := svc.TestConnection(r.Context(), user, provider, accountID)
		respondJSON(w, http.StatusOK, map[string]bool{"connected": connected})
	}
}

// RediscoverHandler queues a background rediscovery for the account.
func RediscoverHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		provider := chi.URLParam(r, "provider")
		accountID := chi.URLParam(r, "accountID")

		jobID, err := svc.EnqueueRediscovery(r.Context(), user, provider, accountID, "manual")
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	}
}
