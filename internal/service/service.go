// Package service is the application facade: it sequences the state
// protocol, the connector contract, and the rediscovery queue so the
// HTTP layer stays thin.
package service

import (
	"context"
	"log"
	"time"

	"github.com/pysugar/linkvault/internal/connector"
	"github.com/pysugar/linkvault/internal/jobs"
	"github.com/pysugar/linkvault/internal/oauthstate"
)

// Service wires the connect flow end to end.
type Service struct {
	registry *connector.Registry
	states   *oauthstate.Store
	queue    *jobs.Queue
	stateTTL time.Duration
}

// New builds the facade. ttl <= 0 selects the default state lifetime.
func New(registry *connector.Registry, states *oauthstate.Store, queue *jobs.Queue, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = oauthstate.DefaultTTL
	}
	return &Service{registry: registry, states: states, queue: queue, stateTTL: ttl}
}

// Providers lists the registered provider ids.
func (s *Service) Providers() []string {
	return s.registry.Providers()
}

// IssueAuthURL mints a single-use state bound to the caller and returns
// the provider authorization URL carrying it.
func (s *Service) IssueAuthURL(ctx context.Context, userID, provider, redirectURI string) (string, error) {
	conn, err := s.registry.Get(provider)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(ctx, userID, provider, redirectURI, s.stateTTL)
	if err != nil {
		return "", err
	}
	return conn.AuthURL(ctx, userID, redirectURI, state)
}

// CompleteExchange finishes the callback leg: the state is consumed
// first, so a rejected state never reaches the provider token endpoint.
func (s *Service) CompleteExchange(ctx context.Context, userID, provider, redirectURI, state, code string) (string, error) {
	conn, err := s.registry.Get(provider)
	if err != nil {
		return "", err
	}
	if err := s.states.Consume(ctx, state, userID, provider, redirectURI); err != nil {
		return "", err
	}
	accountID, err := conn.ExchangeCode(ctx, userID, code, redirectURI)
	if err != nil {
		return "", err
	}
	log.Printf("🔑 Account linked: %s/%s for user %s", provider, accountID, userID)
	return accountID, nil
}

// TestConnection reports whether the linked account still answers.
func (s *Service) TestConnection(ctx context.Context, userID, provider, providerAccountID string) bool {
	conn, err := s.registry.Get(provider)
	if err != nil {
		return false
	}
	return conn.TestConnection(ctx, userID, providerAccountID)
}

// TriggerDiscovery runs inventory discovery inline.
func (s *Service) TriggerDiscovery(ctx context.Context, userID, provider, providerAccountID string) error {
	conn, err := s.registry.Get(provider)
	if err != nil {
		return err
	}
	return conn.DiscoverInventory(ctx, userID, providerAccountID)
}

// EnqueueRediscovery defers discovery to the worker pool and returns
// the job id.
func (s *Service) EnqueueRediscovery(ctx context.Context, userID, provider, providerAccountID, reason string) (string, error) {
	if _, err := s.registry.Get(provider); err != nil {
		return "", err
	}
	return s.queue.Enqueue(ctx, userID, provider, providerAccountID, reason)
}
