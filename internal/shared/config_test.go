package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./nowplaying.db" {
			t.Errorf("expected database path ./nowplaying.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 8888 {
			t.Errorf("expected server port 8888, got %d", config.Server.Port)
		}
		if config.Polling.ActiveInterval.Duration != 5*time.Second {
			t.Errorf("expected active interval 5s, got %v", config.Polling.ActiveInterval)
		}
		if config.Polling.IdleInterval.Duration != 30*time.Second {
			t.Errorf("expected idle interval 30s, got %v", config.Polling.IdleInterval)
		}
		if config.Polling.InactivityThreshold.Duration != 5*time.Minute {
			t.Errorf("expected inactivity threshold 5m, got %v", config.Polling.InactivityThreshold)
		}
		if config.Polling.RefreshInterval.Duration != 30*time.Minute {
			t.Errorf("expected refresh interval 30m, got %v", config.Polling.RefreshInterval)
		}
		if config.Retry.MaxAttempts != 3 {
			t.Errorf("expected 3 retry attempts, got %d", config.Retry.MaxAttempts)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}
		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}
		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[server]
host = "0.0.0.0"
port = 9090

[store]
type = "redis"

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
redirect_uri = "http://localhost:9090/callback"

[polling]
active_interval = "2s"
concurrent_refresh = "await"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Server.Port != 9090 {
			t.Errorf("expected server port 9090, got %d", config.Server.Port)
		}
		if config.Store.Type != "redis" {
			t.Errorf("expected store redis, got %s", config.Store.Type)
		}
		if config.Polling.ActiveInterval.Duration != 2*time.Second {
			t.Errorf("expected active interval 2s, got %v", config.Polling.ActiveInterval)
		}
		if config.Polling.IdleInterval.Duration != 30*time.Second {
			t.Errorf("unset idle interval should keep default, got %v", config.Polling.IdleInterval)
		}
		if !config.HasSpotifyCredentials() {
			t.Error("expected spotify credentials")
		}
	})

	t.Run("LoadConfig rejects bad durations", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[polling]\nactive_interval = \"often\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error for bad duration")
		}
	})

	t.Run("SaveConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Credentials.Spotify.ClientID = "saved_id"
		config.Polling.IdleInterval = NewDuration(45 * time.Second)

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.Credentials.Spotify.ClientID != "saved_id" {
			t.Errorf("expected client id saved_id, got %s", loaded.Credentials.Spotify.ClientID)
		}
		if loaded.Polling.IdleInterval.Duration != 45*time.Second {
			t.Errorf("expected idle interval 45s, got %v", loaded.Polling.IdleInterval)
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("CLIENT_ID", "env_id")
		t.Setenv("CLIENT_SECRET", "env_secret")
		t.Setenv("PORT", "7070")
		t.Setenv("NOWPLAYING_STORE", "memory")

		config := DefaultConfig()
		config.ApplyEnv()

		if config.Credentials.Spotify.ClientID != "env_id" {
			t.Errorf("expected client id from env, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", config.Server.Port)
		}
		if config.Store.Type != "memory" {
			t.Errorf("expected memory store, got %s", config.Store.Type)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name   string
			mutate func(*Config)
		}{
			{"unknown store", func(c *Config) { c.Store.Type = "etcd" }},
			{"zero active interval", func(c *Config) { c.Polling.ActiveInterval = NewDuration(0) }},
			{"bad refresh mode", func(c *Config) { c.Polling.ConcurrentRefresh = "parallel" }},
			{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }},
			{"too many attempts", func(c *Config) { c.Retry.MaxAttempts = 50 }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				config := DefaultConfig()
				tt.mutate(config)
				if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("RetryConfig Policy", func(t *testing.T) {
		p := RetryConfig{MaxAttempts: 5, BaseDelay: NewDuration(500 * time.Millisecond)}.Policy()
		if p.MaxAttempts != 5 || p.BaseDelay != 500*time.Millisecond {
			t.Errorf("unexpected policy %+v", p)
		}

		p = RetryConfig{}.Policy()
		if p.MaxAttempts != 3 || p.BaseDelay != time.Second {
			t.Errorf("empty config should use defaults, got %+v", p)
		}
	})
}
