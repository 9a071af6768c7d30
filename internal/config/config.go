// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads engine configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the engine needs to wire itself.
type Config struct {
	// TrustedRequester is the single upstream identity allowed to submit
	// plans.
	TrustedRequester string `env:"BUILDD_TRUSTED_REQUESTER" envDefault:"architect"`

	// AllowedPrefixes and DeniedSegments configure path authorization.
	// Empty values fall back to the pathauth defaults.
	AllowedPrefixes []string `env:"BUILDD_ALLOWED_PREFIXES" envSeparator:","`
	DeniedSegments  []string `env:"BUILDD_DENIED_SEGMENTS" envSeparator:","`

	// KillSwitchResetCode authorizes kill-switch resets. When unset, reset
	// is disabled entirely.
	KillSwitchResetCode string `env:"BUILDD_KILLSWITCH_RESET_CODE"`

	// StoreBackend selects the resource store: memory, dir, or object.
	StoreBackend string `env:"BUILDD_STORE" envDefault:"dir"`
	// StoreDir roots the dir backend. Empty uses the platform data dir.
	StoreDir string `env:"BUILDD_STORE_DIR"`

	// ArtifactPrefix roots emitted artifacts inside the resource store.
	ArtifactPrefix string `env:"BUILDD_ARTIFACT_PREFIX" envDefault:"artifacts"`

	// DataDir overrides the audit DB location.
	DataDir string `env:"BUILDD_DATA_DIR"`

	// Object store settings, used when StoreBackend is "object".
	ObjectEndpoint  string `env:"BUILDD_OBJECT_ENDPOINT" envDefault:"localhost:9000"`
	ObjectAccessKey string `env:"BUILDD_OBJECT_ACCESS_KEY"`
	ObjectSecretKey string `env:"BUILDD_OBJECT_SECRET_KEY"`
	ObjectRegion    string `env:"BUILDD_OBJECT_REGION" envDefault:"us-east-1"`
	ObjectUseSSL    bool   `env:"BUILDD_OBJECT_USE_SSL" envDefault:"false"`
	ObjectBucket    string `env:"BUILDD_OBJECT_BUCKET" envDefault:"buildd"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.StoreBackend {
	case "memory", "dir", "object":
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}
