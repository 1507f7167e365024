package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel    string            `toml:"log_level"`
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	YTMusic  YTMusicConfig  `toml:"ytmusic"`
	Spotify  SpotifyConfig  `toml:"spotify"`
}

// TelegramConfig contains Telegram Bot API credentials and the mirrored channel.
type TelegramConfig struct {
	BotToken  string `toml:"bot_token"`
	ChannelID int64  `toml:"channel_id"`
}

// YTMusicConfig contains YouTube Music proxy settings.
//
// The proxy is a ytmusicapi sidecar; AuthFile points at its browser.json or oauth.json.
type YTMusicConfig struct {
	ProxyURL   string `toml:"proxy_url"`
	AuthFile   string `toml:"auth_file"`
	PlaylistID string `toml:"playlist_id"`
}

// SpotifyConfig contains Spotify API credentials. Spotify directions are only
// configured when ClientID and PlaylistID are both set.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	RedirectURI  string `toml:"redirect_uri"`
	PlaylistID   string `toml:"playlist_id"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP status server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig contains sync scheduling and retry settings. Intervals are in
// seconds, keyed by direction tag.
type SyncConfig struct {
	MaxRetries int            `toml:"max_retries"`
	BatchSize  int            `toml:"batch_size"`
	Intervals  map[string]int `toml:"intervals"`
}

// SpotifyEnabled reports whether the optional Spotify directions should be configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Credentials.Spotify.ClientID != "" && c.Credentials.Spotify.PlaylistID != ""
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
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
