package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// FileEnv names the environment variable pointing at an optional config file.
const FileEnv = "FASTCHECKOUT_CONFIG"

// Backend transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Logging      LogConfig          `yaml:"logging" toml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Capabilities CapabilitiesConfig `yaml:"capabilities" toml:"capabilities"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// CapabilitiesConfig tunes the per-profile capabilities cache and lookups.
type CapabilitiesConfig struct {
	MaxSize          int      `envconfig:"CAPABILITIES_MAX_SIZE" yaml:"max_size" toml:"max_size"`
	Lifetime         Duration `envconfig:"CAPABILITIES_LIFETIME" yaml:"lifetime" toml:"lifetime"`
	HashPrefixLength uint32   `envconfig:"CAPABILITIES_HASH_PREFIX_LENGTH" yaml:"hash_prefix_length" toml:"hash_prefix_length"`
	Intent           string   `envconfig:"CAPABILITIES_INTENT" yaml:"intent" toml:"intent"`
	MaxProfiles      int      `envconfig:"CAPABILITIES_MAX_PROFILES" yaml:"max_profiles" toml:"max_profiles"`
}

// BackendConfig describes how to reach the capabilities service.
type BackendConfig struct {
	Transport         string   `envconfig:"BACKEND_TRANSPORT" yaml:"transport" toml:"transport"`
	Endpoint          string   `envconfig:"BACKEND_ENDPOINT" yaml:"endpoint" toml:"endpoint"`
	GRPCAddress       string   `envconfig:"BACKEND_GRPC_ADDR" yaml:"grpc_address" toml:"grpc_address"`
	GRPCInsecure      bool     `envconfig:"BACKEND_GRPC_INSECURE" yaml:"grpc_insecure" toml:"grpc_insecure"`
	APIKey            string   `envconfig:"BACKEND_API_KEY" yaml:"api_key" toml:"api_key"`
	Timeout           Duration `envconfig:"BACKEND_TIMEOUT" yaml:"timeout" toml:"timeout"`
	RetryMax          int      `envconfig:"BACKEND_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
	RequestsPerSecond float64  `envconfig:"BACKEND_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Locale            string   `envconfig:"BACKEND_LOCALE" yaml:"locale" toml:"locale"`
	Country           string   `envconfig:"BACKEND_COUNTRY" yaml:"country" toml:"country"`
	ClientVersion     string   `envconfig:"BACKEND_CLIENT_VERSION" yaml:"client_version" toml:"client_version"`
}

// Duration is a time.Duration written as "10m" in files and the environment.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load builds the configuration from defaults, then the file named by
// FASTCHECKOUT_CONFIG if set, then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Capabilities: CapabilitiesConfig{
			MaxSize:          50,
			Lifetime:         Duration(10 * time.Minute),
			HashPrefixLength: 15,
			Intent:           "CHROME_FAST_CHECKOUT",
			MaxProfiles:      1000,
		},
		Backend: BackendConfig{
			Transport:         TransportHTTP,
			Endpoint:          "https://automate-pa.googleapis.com",
			GRPCAddress:       "automate-pa.googleapis.com:443",
			Timeout:           Duration(10 * time.Second),
			RetryMax:          2,
			RequestsPerSecond: 10,
			Locale:            "en-US",
			Country:           "US",
		},
	}
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs error

	if c.Server.Port == "" {
		errs = multierr.Append(errs, errors.New("server port must not be empty"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = multierr.Append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Capabilities.MaxSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("capabilities max size must be positive, got %d", c.Capabilities.MaxSize))
	}
	if c.Capabilities.Lifetime <= 0 {
		errs = multierr.Append(errs, errors.New("capabilities lifetime must be positive"))
	}
	if c.Capabilities.HashPrefixLength > 64 {
		errs = multierr.Append(errs, fmt.Errorf("hash prefix length must be at most 64, got %d", c.Capabilities.HashPrefixLength))
	}
	if c.Capabilities.Intent == "" {
		errs = multierr.Append(errs, errors.New("capabilities intent must not be empty"))
	}
	if c.Capabilities.MaxProfiles <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("capabilities max profiles must be positive, got %d", c.Capabilities.MaxProfiles))
	}

	switch c.Backend.Transport {
	case TransportHTTP:
		if c.Backend.Endpoint == "" {
			errs = multierr.Append(errs, errors.New("backend endpoint is required for the http transport"))
		}
	case TransportGRPC:
		if c.Backend.GRPCAddress == "" {
			errs = multierr.Append(errs, errors.New("backend grpc address is required for the grpc transport"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown backend transport %q", c.Backend.Transport))
	}
	if c.Backend.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("backend timeout must be positive"))
	}
	if c.Backend.RetryMax < 0 {
		errs = multierr.Append(errs, errors.New("backend retry max must not be negative"))
	}

	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}
