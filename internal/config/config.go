// Package config loads process-wide configuration: the master encryption
// key, per-provider OAuth client credentials, and operational defaults.
// Credentials come from an optional YAML file with environment overrides,
// env always winning.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDBPath            = "linkvault.db"
	DefaultStateTTL          = 10 * time.Minute
	DefaultWorkerConcurrency = 5
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []providerEntry `yaml:"providers"`
}

type providerEntry struct {
	ID           string `yaml:"id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ProviderCredentials is the OAuth client identity for one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Config is the resolved process configuration.
type Config struct {
	DBPath            string
	MasterKey         []byte // exactly 32 bytes
	StateTTL          time.Duration
	WorkerConcurrency int
	Providers         map[string]ProviderCredentials
}

// Load resolves configuration from the environment and the optional
// providers file named by LINKVAULT_PROVIDERS_FILE. Fails fast when the
// master key is missing or not exactly 32 bytes after base64 decoding.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:            envOr("LINKVAULT_DB_PATH", DefaultDBPath),
		StateTTL:          DefaultStateTTL,
		WorkerConcurrency: DefaultWorkerConcurrency,
		Providers:         make(map[string]ProviderCredentials),
	}

	key, err := decodeMasterKey(os.Getenv("LINKVAULT_MASTER_KEY_B64"))
	if err != nil {
		return nil, err
	}
	cfg.MasterKey = key

	if raw := os.Getenv("LINKVAULT_STATE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LINKVAULT_STATE_TTL %q: %w", raw, err)
		}
		cfg.StateTTL = ttl
	}
	if raw := os.Getenv("LINKVAULT_WORKER_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid LINKVAULT_WORKER_CONCURRENCY %q", raw)
		}
		cfg.WorkerConcurrency = n
	}

	if path := os.Getenv("LINKVAULT_PROVIDERS_FILE"); path != "" {
		if err := cfg.loadProvidersFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

func decodeMasterKey(b64 string) ([]byte, error) {
	if strings.TrimSpace(b64) == "" {
		return nil, fmt.Errorf("missing LINKVAULT_MASTER_KEY_B64")
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("LINKVAULT_MASTER_KEY_B64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("LINKVAULT_MASTER_KEY_B64 must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Config) loadProvidersFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read providers file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse providers file: %w", err)
	}
	for _, p := range fc.Providers {
		id := strings.TrimSpace(p.ID)
		if !providerIDRegexp.MatchString(id) {
			return fmt.Errorf("invalid provider id %q in %s", p.ID, path)
		}
		c.Providers[id] = ProviderCredentials{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		}
	}
	return nil
}

// applyEnvOverrides layers GOOGLE_CLIENT_ID-style variables over the
// file. Only providers with credentials from at least one source end up
// in the map.
func (c *Config) applyEnvOverrides() {
	for _, id := range []string{"google", "microsoft", "facebook", "apple"} {
		prefix := strings.ToUpper(id)
		creds := c.Providers[id]
		if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
			creds.ClientID = v
		}
		if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
			creds.ClientSecret = v
		}
		if creds.ClientID != "" {
			c.Providers[id] = creds
		}
	}
}

// Credentials returns the client credentials for a provider id, with an
// ok flag instead of an error so callers can skip unconfigured providers.
func (c *Config) Credentials(provider string) (ProviderCredentials, bool) {
	creds, ok := c.Providers[provider]
	return creds, ok
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
