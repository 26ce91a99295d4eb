// Package config handles loading and validation of client configuration.
// Supports both development (.env / env vars) and production (Secret
// Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
)

// Config holds all cartsync configuration.
// Environment determines whether the session secret loads from env vars
// (development) or Secret Manager (production).
type Config struct {
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// Store settings
	Store StoreConfig

	// GCP settings (required in production)
	GCPProject string
	// SecretID names the Secret Manager secret holding the session token.
	SecretID string

	// CartFile is the local anonymous cart path.
	// Default: ~/.config/cartsync/cart.json
	CartFile string

	// QuietPeriod is the debounce window for coalesced quantity updates.
	QuietPeriod time.Duration
}

// StoreConfig contains storefront-specific settings.
// In production the session token is loaded from Secret Manager; in
// development from env vars (optionally via a .env file).
type StoreConfig struct {
	// CartURL is the cart API origin.
	CartURL string `json:"cart_url"`
	// CatalogURL is the product catalog origin. Defaults to CartURL.
	CatalogURL string `json:"catalog_url"`
	// SessionToken is the initial session credential; empty means
	// anonymous until login.
	SessionToken string `json:"session_token"`
	// BrowserTLS enables the Chrome-fingerprint transport for stores
	// behind JA3-fingerprinting CDNs.
	BrowserTLS bool `json:"browser_tls"`
}

// Load reads configuration from environment (with .env support in
// development) and, in production, the session secret from Secret
// Manager. Validates all required fields.
func Load(ctx context.Context) (*Config, error) {
	// A .env file is a development convenience; ignore its absence.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretID:    os.Getenv("SESSION_SECRET_ID"),
		CartFile:    os.Getenv("CART_FILE"),
		Store: StoreConfig{
			CartURL:      os.Getenv("CART_API_URL"),
			CatalogURL:   os.Getenv("CATALOG_API_URL"),
			SessionToken: os.Getenv("SESSION_TOKEN"),
			BrowserTLS:   boolEnv("BROWSER_TLS"),
		},
	}

	if ms := os.Getenv("QUIET_PERIOD_MS"); ms != "" {
		v, err := strconv.Atoi(ms)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid QUIET_PERIOD_MS: %q", ms)
		}
		cfg.QuietPeriod = time.Duration(v) * time.Millisecond
	}

	if cfg.CartFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir for cart file: %w", err)
		}
		cfg.CartFile = filepath.Join(home, ".config", "cartsync", "cart.json")
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.SecretID == "" {
			return nil, fmt.Errorf("SESSION_SECRET_ID required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading session secret: %w", err)
		}
	}

	if cfg.Store.CatalogURL == "" {
		cfg.Store.CatalogURL = cfg.Store.CartURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromSecretManager fetches the store secret from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
// The payload is a JSON StoreConfig; fields already set from env win.
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	var secret StoreConfig
	if err := json.Unmarshal(result.Payload.Data, &secret); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	if c.Store.CartURL == "" {
		c.Store.CartURL = secret.CartURL
	}
	if c.Store.CatalogURL == "" {
		c.Store.CatalogURL = secret.CatalogURL
	}
	if c.Store.SessionToken == "" {
		c.Store.SessionToken = secret.SessionToken
	}
	if secret.BrowserTLS {
		c.Store.BrowserTLS = true
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.CartURL == "" {
		return fmt.Errorf("CART_API_URL is required")
	}
	if _, err := url.Parse(c.Store.CartURL); err != nil {
		return fmt.Errorf("invalid CART_API_URL: %w", err)
	}
	if _, err := url.Parse(c.Store.CatalogURL); err != nil {
		return fmt.Errorf("invalid CATALOG_API_URL: %w", err)
	}
	return nil
}

// envOrDefault returns the env var value or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
