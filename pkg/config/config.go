// Package config loads engine configuration from a JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"fedwire/pkg/fed"
)

// envPrefix namespaces the override variables (FEDWIRE_DOMAIN, ...).
const envPrefix = "fedwire"

// Config carries the deployment-specific knobs of the federation engine.
type Config struct {
	// Domain is the server's own domain, used to build exclude lists that
	// prevent self-delivery.
	Domain string `json:"domain" envconfig:"DOMAIN"`

	// TreatHTTPS forces https in constructed URIs for deployments behind
	// a TLS-terminating proxy.
	TreatHTTPS bool `json:"treat_https" envconfig:"TREAT_HTTPS"`

	// SharedInboxPath overrides the default /inbox shared inbox route.
	SharedInboxPath string `json:"shared_inbox_path" envconfig:"SHARED_INBOX_PATH"`

	RequestTimeout  time.Duration `json:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxIdleConns    int           `json:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	MaxConnsPerHost int           `json:"max_conns_per_host" envconfig:"MAX_CONNS_PER_HOST"`

	KeyCacheSize int           `json:"key_cache_size" envconfig:"KEY_CACHE_SIZE"`
	KeyCacheTTL  time.Duration `json:"key_cache_ttl" envconfig:"KEY_CACHE_TTL"`
}

// Load reads a JSON config file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return &cfg, nil
}

// FederationOptions maps the config onto engine options. Collaborators
// (loader, decoder, webfinger) are code, not configuration, and are filled
// in by the caller.
func (c *Config) FederationOptions() fed.Options {
	return fed.Options{
		TreatHTTPS:      c.TreatHTTPS,
		SharedInboxPath: c.SharedInboxPath,
		KeyCacheSize:    c.KeyCacheSize,
		KeyCacheTTL:     c.KeyCacheTTL,
		HTTPClient: fed.NewDeliveryClient(fed.ClientOptions{
			RequestTimeout:  c.RequestTimeout,
			MaxIdleConns:    c.MaxIdleConns,
			MaxConnsPerHost: c.MaxConnsPerHost,
		}),
	}
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment config: %w", err)
	}
	return &cfg, nil
}
