package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./setlist.db" {
			t.Errorf("expected database path ./setlist.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Credentials.Spotify.ClientID != "your_spotify_client_id" {
			t.Errorf("expected spotify client_id your_spotify_client_id, got %s", config.Credentials.Spotify.ClientID)
		}

		if config.Server.SessionTTLDuration() != 14*24*time.Hour {
			t.Errorf("expected two week session ttl, got %v", config.Server.SessionTTLDuration())
		}

		if config.Server.ProviderTimeoutDuration() != 10*time.Second {
			t.Errorf("expected 10s provider timeout, got %v", config.Server.ProviderTimeoutDuration())
		}

		if config.Session.Backend != "memory" {
			t.Errorf("expected memory session backend, got %s", config.Session.Backend)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
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
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080
session_ttl = "1h"

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}
		if config.Server.SessionTTLDuration() != time.Hour {
			t.Errorf("expected 1h ttl, got %v", config.Server.SessionTTLDuration())
		}
		if config.Credentials.Spotify.TokenURL == "" {
			t.Error("expected unset token_url to keep its default")
		}
	})

	t.Run("LoadConfig invalid", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[server\nport ="), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(envPath, []byte("SPOTIFY_CLIENT_SECRET=from_file\n"), 0644); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}

		t.Setenv("SPOTIFY_CLIENT_ID", "from_env")
		t.Setenv("PORT", "9090")
		t.Setenv("SPOTIFY_CLIENT_SECRET", "")
		os.Unsetenv("SPOTIFY_CLIENT_SECRET")

		config := DefaultConfig()
		if err := ApplyEnv(config, envPath); err != nil {
			t.Fatalf("ApplyEnv() error = %v", err)
		}

		if config.Credentials.Spotify.ClientID != "from_env" {
			t.Errorf("expected client id from environment, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Credentials.Spotify.ClientSecret != "from_file" {
			t.Errorf("expected client secret from .env, got %s", config.Credentials.Spotify.ClientSecret)
		}
		if config.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", config.Server.Port)
		}
	})

	t.Run("ApplyEnv missing file", func(t *testing.T) {
		config := DefaultConfig()
		if err := ApplyEnv(config, filepath.Join(t.TempDir(), "missing.env")); err != nil {
			t.Errorf("missing env file should be ignored, got %v", err)
		}
	})
}
