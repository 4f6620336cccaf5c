// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "LIBRACHAT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the homeserver configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// ServerName is the name after the colon in every identifier this
	// server issues.
	ServerName string `yaml:"server_name"`

	HTTP       HTTPConfig       `yaml:"http"`
	Paths      PathsConfig      `yaml:"paths"`
	Signing    SigningConfig    `yaml:"signing"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Limits     LimitsConfig     `yaml:"limits"`
	Storage    StorageConfig    `yaml:"storage"`
	Federation FederationConfig `yaml:"federation"`
	Log        LogConfig        `yaml:"log"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields an environment section may override.
type Overrides struct {
	HTTP   *HTTPConfig   `yaml:"http,omitempty"`
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Limits *LimitsConfig `yaml:"limits,omitempty"`
	Log    *LogConfig    `yaml:"log,omitempty"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	ListenAddress string `yaml:"listen_address"`

	// PublicBaseURL is advertised in /.well-known/matrix/client.
	// Defaults to https://<server_name>.
	PublicBaseURL string `yaml:"public_base_url"`

	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// State holds the server signing key and token key.
	State string `yaml:"state"`

	// Database is the SQLite database file.
	Database string `yaml:"database"`
}

// SigningConfig configures the server signing key.
type SigningConfig struct {
	// KeyName is the key ID suffix: "key1" publishes "ed25519:key1".
	KeyName string `yaml:"key_name"`

	// Seed is an optional base64 Ed25519 seed. When empty, the key is
	// loaded from (or generated into) Paths.State.
	Seed string `yaml:"seed"`

	// KeyValidity is the valid_until_ts window of the key document.
	KeyValidity Duration `yaml:"key_validity"`
}

// TokensConfig configures bearer credentials.
type TokensConfig struct {
	Lifetime Duration `yaml:"lifetime"`
}

// DeliveryConfig configures realtime delivery.
type DeliveryConfig struct {
	DefaultPollTimeout Duration `yaml:"default_poll_timeout"`
	MaxPollTimeout     Duration `yaml:"max_poll_timeout"`

	// StreamBuffer is the per-subscriber queue depth of push streams.
	StreamBuffer int `yaml:"stream_buffer"`
}

// LimitsConfig configures per-identity request rate limiting.
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig configures how rows are written.
type StorageConfig struct {
	// Compression applies to stored event JSON: none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// FederationConfig configures the federation endpoints.
type FederationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal).
	Format string `yaml:"format"`
}

// Default returns the configuration values used for anything the file
// does not set.
func Default() *Config {
	return &Config{
		Environment: Development,
		HTTP: HTTPConfig{
			ListenAddress:   "127.0.0.1:8008",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(90 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Paths: PathsConfig{
			State:    "${HOME}/.local/state/librachat",
			Database: "${LIBRACHAT_STATE}/homeserver.db",
		},
		Signing: SigningConfig{
			KeyName:     "key1",
			KeyValidity: Duration(24 * time.Hour),
		},
		Tokens: TokensConfig{
			Lifetime: Duration(24 * time.Hour),
		},
		Delivery: DeliveryConfig{
			DefaultPollTimeout: Duration(30 * time.Second),
			MaxPollTimeout:     Duration(60 * time.Second),
			StreamBuffer:       64,
		},
		Limits: LimitsConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Storage:    StorageConfig{Compression: "zstd"},
		Federation: FederationConfig{Enabled: true},
		Log:        LogConfig{Level: "info", Format: "auto"},
	}
}

// Load loads configuration from the file named by LIBRACHAT_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your homeserver config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment section, and expands path variables. It does not
// validate; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if cfg.HTTP.PublicBaseURL == "" && cfg.ServerName != "" {
		cfg.HTTP.PublicBaseURL = "https://" + cfg.ServerName
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the stripped document decodes
		// through the same yaml tags.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{
				Limits: &LimitsConfig{RequestsPerSecond: 10, Burst: 20},
				Log:    &LogConfig{Format: "json"},
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.HTTP != nil {
		if overrides.HTTP.ListenAddress != "" {
			c.HTTP.ListenAddress = overrides.HTTP.ListenAddress
		}
		if overrides.HTTP.PublicBaseURL != "" {
			c.HTTP.PublicBaseURL = overrides.HTTP.PublicBaseURL
		}
	}
	if overrides.Paths != nil {
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Database != "" {
			c.Paths.Database = overrides.Paths.Database
		}
	}
	if overrides.Limits != nil {
		if overrides.Limits.RequestsPerSecond > 0 {
			c.Limits.RequestsPerSecond = overrides.Limits.RequestsPerSecond
		}
		if overrides.Limits.Burst > 0 {
			c.Limits.Burst = overrides.Limits.Burst
		}
	}
	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["LIBRACHAT_STATE"] = c.Paths.State
	c.Paths.Database = expandVars(c.Paths.Database, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	} else if strings.ContainsAny(c.ServerName, " \t/@#!$") {
		errs = append(errs, fmt.Errorf("server_name %q contains invalid characters", c.ServerName))
	}
	if c.HTTP.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("http.listen_address is required"))
	}
	if c.HTTP.PublicBaseURL != "" {
		if parsed, err := url.Parse(c.HTTP.PublicBaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("http.public_base_url %q is not an absolute URL", c.HTTP.PublicBaseURL))
		}
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Paths.State == "" && c.Signing.Seed == "" {
		errs = append(errs, fmt.Errorf("paths.state is required unless signing.seed is set"))
	}
	if c.Signing.KeyName == "" {
		errs = append(errs, fmt.Errorf("signing.key_name is required"))
	}
	if c.Signing.KeyValidity <= 0 {
		errs = append(errs, fmt.Errorf("signing.key_validity must be positive"))
	}
	if c.Tokens.Lifetime <= 0 {
		errs = append(errs, fmt.Errorf("tokens.lifetime must be positive"))
	}
	if c.Delivery.DefaultPollTimeout <= 0 || c.Delivery.MaxPollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("delivery poll timeouts must be positive"))
	}
	if c.Delivery.DefaultPollTimeout > c.Delivery.MaxPollTimeout {
		errs = append(errs, fmt.Errorf("delivery.default_poll_timeout (%s) exceeds delivery.max_poll_timeout (%s)",
			c.Delivery.DefaultPollTimeout.Std(), c.Delivery.MaxPollTimeout.Std()))
	}
	if c.HTTP.WriteTimeout > 0 && c.Delivery.MaxPollTimeout >= c.HTTP.WriteTimeout {
		errs = append(errs, fmt.Errorf("delivery.max_poll_timeout (%s) must be shorter than http.write_timeout (%s)",
			c.Delivery.MaxPollTimeout.Std(), c.HTTP.WriteTimeout.Std()))
	}
	if c.Limits.RequestsPerSecond <= 0 || c.Limits.Burst <= 0 {
		errs = append(errs, fmt.Errorf("limits.requests_per_second and limits.burst must be positive"))
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of none, lz4, zstd"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error"))
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of auto, text, json"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the state directory and the database's parent
// directory.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.State, filepath.Dir(c.Paths.Database)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
