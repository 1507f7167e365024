package shared

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "navaar.db" {
			t.Errorf("expected database path navaar.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Credentials.YTMusic.ProxyURL != "http://localhost:8000" {
			t.Errorf("expected ytmusic proxy URL http://localhost:8000, got %s", config.Credentials.YTMusic.ProxyURL)
		}

		if config.Sync.MaxRetries != 3 {
			t.Errorf("expected max_retries 3, got %d", config.Sync.MaxRetries)
		}

		if config.Sync.Intervals["tg_to_yt"] != 60 {
			t.Errorf("expected tg_to_yt interval 60, got %d", config.Sync.Intervals["tg_to_yt"])
		}

		if config.SpotifyEnabled() {
			t.Error("spotify should be disabled in the default config")
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

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

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `log_level = "debug"

[credentials.telegram]
bot_token = "123:abc"
channel_id = -1001234567890

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
playlist_id = "pl1"

[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[server]
host = "127.0.0.1"
port = 9090

[sync]
max_retries = 5
batch_size = 10

[sync.intervals]
tg_to_yt = 30
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

		if config.Credentials.Telegram.ChannelID != -1001234567890 {
			t.Errorf("expected channel id -1001234567890, got %d", config.Credentials.Telegram.ChannelID)
		}

		if config.Sync.MaxRetries != 5 {
			t.Errorf("expected max_retries 5, got %d", config.Sync.MaxRetries)
		}

		if !config.SpotifyEnabled() {
			t.Error("spotify should be enabled with client_id and playlist_id set")
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig("/does/not/exist.toml"); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}
