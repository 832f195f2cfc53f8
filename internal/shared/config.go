package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Server      ServerConfig      `toml:"server"`
	Store       StoreConfig       `toml:"store"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Polling     PollingConfig     `toml:"polling"`
	Retry       RetryConfig       `toml:"retry"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// Map returns the credentials in the shape expected by the services constructors.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
	}
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	FrontendURL string `toml:"frontend_url"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the persistence backend for credentials.
type StoreConfig struct {
	Type string `toml:"type"`
}

// DatabaseConfig contains SQLite connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// PostgresConfig contains the Postgres connection URL.
type PostgresConfig struct {
	URL string `toml:"url"`
}

// PollingConfig controls the coordinator's cadence and refresh policy.
type PollingConfig struct {
	ActiveInterval      Duration `toml:"active_interval"`
	IdleInterval        Duration `toml:"idle_interval"`
	InactivityThreshold Duration `toml:"inactivity_threshold"`
	RefreshInterval     Duration `toml:"refresh_interval"`
	RefreshThreshold    Duration `toml:"refresh_threshold"`
	ConcurrentRefresh   string   `toml:"concurrent_refresh"`
}

// RetryConfig controls the bounded retry loop used for provider calls.
type RetryConfig struct {
	MaxAttempts       int      `toml:"max_attempts"`
	BaseDelay         Duration `toml:"base_delay"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// Policy converts the config into a [RetryPolicy].
func (r RetryConfig) Policy() RetryPolicy {
	p := DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay.Duration > 0 {
		p.BaseDelay = r.BaseDelay.Duration
	}
	return p
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Duration is a [time.Duration] written as a Go duration string ("5s", "30m") in TOML.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values from the environment (typically populated from a .env file).
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CLIENT_ID"); v != "" {
		c.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		c.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv("REDIRECT_URI"); v != "" {
		c.Credentials.Spotify.RedirectURI = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NOWPLAYING_STORE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Type) {
	case "memory", "sqlite", "redis", "postgres":
	default:
		return fmt.Errorf("%w: unknown store type %q", ErrInvalidConfig, c.Store.Type)
	}

	durations := map[string]time.Duration{
		"polling.active_interval":      c.Polling.ActiveInterval.Duration,
		"polling.idle_interval":        c.Polling.IdleInterval.Duration,
		"polling.inactivity_threshold": c.Polling.InactivityThreshold.Duration,
		"polling.refresh_interval":     c.Polling.RefreshInterval.Duration,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}

	switch c.Polling.ConcurrentRefresh {
	case "", "assume-success", "await":
	default:
		return fmt.Errorf("%w: concurrent_refresh must be assume-success or await", ErrInvalidConfig)
	}

	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("%w: retry.max_attempts must be between 0 and %d", ErrInvalidConfig, MaxRetryAttempts)
	}

	return nil
}

// HasSpotifyCredentials reports whether a client id and secret are configured.
func (c *Config) HasSpotifyCredentials() bool {
	return c.Credentials.Spotify.ClientID != "" && c.Credentials.Spotify.ClientSecret != ""
}
