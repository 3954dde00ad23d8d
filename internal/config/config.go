// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package config loads keyloom configuration from defaults, an optional
// YAML file, KEYLOOM_* environment variables and command-line flags, in
// that order of precedence (later layers win).
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the root configuration for the keyloom server.
type Config struct {
	HTTPAddr    string `koanf:"http_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`
	LogLevel    string `koanf:"log_level"`

	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
}

// DatabaseConfig configures the PostgreSQL session registry.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig configures the fast session cache.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AuthConfig holds the credential and session tunables.
type AuthConfig struct {
	// SigningSecrets are the JWT HMAC secrets. The first entry signs new
	// tokens; all entries verify, which allows zero-downtime rotation.
	SigningSecrets []string `koanf:"signing_secrets"`

	AccessTokenTTL  time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL time.Duration `koanf:"refresh_token_ttl"`

	LockoutThreshold int           `koanf:"lockout_threshold"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`

	ResetTokenTTL time.Duration `koanf:"reset_token_ttl"`

	// SweepInterval controls how often expired session rows are reaped.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"http_addr":    ":8080",
		"metrics_addr": "127.0.0.1:9100",
		"log_format":   "json",
		"log_level":    "info",

		"redis.addr":    "localhost:6379",
		"redis.db":      0,
		"redis.timeout": 250 * time.Millisecond,

		"auth.access_token_ttl":  24 * time.Hour,
		"auth.refresh_token_ttl": 7 * 24 * time.Hour,
		"auth.lockout_threshold": 5,
		"auth.lockout_duration":  30 * time.Minute,
		"auth.reset_token_ttl":   time.Hour,
		"auth.sweep_interval":    time.Hour,
	}
}

// Load assembles the configuration. path may be empty (no file layer);
// flags may be nil (no flag layer).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	// KEYLOOM_DATABASE_URL -> database.url, KEYLOOM_AUTH_LOCKOUT_THRESHOLD
	// -> auth.lockout_threshold, and so on.
	envProvider := env.Provider("KEYLOOM_", ".", func(key string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(key, "KEYLOOM_")), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").New("database.url is required")
	}
	if len(c.Auth.SigningSecrets) == 0 {
		return oops.Code("CONFIG_INVALID").New("auth.signing_secrets must contain at least one secret")
	}
	for i, secret := range c.Auth.SigningSecrets {
		if secret == "" {
			return oops.Code("CONFIG_INVALID").
				With("index", i).
				New("auth.signing_secrets entries must be non-empty")
		}
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			New("log_format must be 'json' or 'text'")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return oops.Code("CONFIG_INVALID").New("auth.lockout_threshold must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		return oops.Code("CONFIG_INVALID").New("auth.lockout_duration must be positive")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").New("token TTLs must be positive")
	}
	if c.Auth.RefreshTokenTTL < c.Auth.AccessTokenTTL {
		return oops.Code("CONFIG_INVALID").New("auth.refresh_token_ttl must not be shorter than auth.access_token_ttl")
	}
	if c.Auth.ResetTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").New("auth.reset_token_ttl must be positive")
	}
	return nil
}
