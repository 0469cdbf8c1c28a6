// Package config builds the typed Config used across the service.
// Values are layered: built-in defaults, then an optional YAML file named by
// MASA_CONFIG, then environment variables. Keys are the lower-cased environment
// variable names, so DB_DSN and `db_dsn:` in YAML set the same field.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FileEnv names the environment variable pointing at an optional YAML config file.
const FileEnv = "MASA_CONFIG"

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

type Config struct {
	Env       string `koanf:"env"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Database
	DBDsn string `koanf:"db_dsn"`

	// HTTP
	HTTPAddr               string `koanf:"http_addr"`
	AdminUsername          string `koanf:"admin_username"`
	AdminPassword          string `koanf:"admin_password"`
	AdminToken             string `koanf:"admin_token"`
	RateLimitEnabled       bool   `koanf:"rate_limit_enabled"`
	RateLimitRequestsPerIP int    `koanf:"rate_limit_requests_per_ip"`
	RateLimitWindowSeconds int    `koanf:"rate_limit_window_seconds"`
	CORSPermissive         string `koanf:"cors_permissive"`
	CORSAllowedOrigins     string `koanf:"cors_allowed_origins"`
	APIMaxLeaderboard      int    `koanf:"api_max_leaderboard"`

	// Twitch chat
	TwitchChannels    string `koanf:"twitch_channels"`
	TwitchBotUsername string `koanf:"twitch_bot_username"`
	TwitchOAuthToken  string `koanf:"twitch_oauth_token"`
	ChatCommandPrefix string `koanf:"chat_command_prefix"`
	ChatMaxInFlight   int    `koanf:"chat_max_in_flight"`
	LeaderboardSize   int    `koanf:"leaderboard_size"`

	// Bot token maintenance
	TwitchClientID       string        `koanf:"twitch_client_id"`
	TwitchClientSecret   string        `koanf:"twitch_client_secret"`
	TwitchRefreshToken   string        `koanf:"twitch_refresh_token"`
	TokenEncryptionKey   string        `koanf:"token_encryption_key"`
	TokenRefreshInterval time.Duration `koanf:"token_refresh_interval"`
	TokenRefreshWindow   time.Duration `koanf:"token_refresh_window"`

	// Presence
	PresenceInterval time.Duration `koanf:"presence_interval"`

	// Telemetry
	ServiceName string `koanf:"otel_service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",

		HTTPAddr:               ":8080",
		RateLimitEnabled:       true,
		RateLimitRequestsPerIP: 60,
		RateLimitWindowSeconds: 60,
		APIMaxLeaderboard:      100,

		ChatCommandPrefix: "!",
		ChatMaxInFlight:   8,
		LeaderboardSize:   5,

		TokenRefreshInterval: 5 * time.Minute,
		TokenRefreshWindow:   15 * time.Minute,

		PresenceInterval: 5 * time.Second,

		ServiceName: "masa-meter",
	}
}

// Load reads the layered configuration. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the chat bot.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(FileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// Empty variables are skipped so they don't blank out defaults.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the service misbehave.
func (c *Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return fmt.Errorf("%w: http_addr must not be empty", ErrInvalidConfig)
	case c.ChatCommandPrefix == "":
		return fmt.Errorf("%w: chat_command_prefix must not be empty", ErrInvalidConfig)
	case c.ChatMaxInFlight < 1:
		return fmt.Errorf("%w: chat_max_in_flight must be >= 1", ErrInvalidConfig)
	case c.LeaderboardSize < 1:
		return fmt.Errorf("%w: leaderboard_size must be >= 1", ErrInvalidConfig)
	case c.PresenceInterval <= 0:
		return fmt.Errorf("%w: presence_interval must be positive", ErrInvalidConfig)
	case c.TokenRefreshInterval <= 0 || c.TokenRefreshWindow <= 0:
		return fmt.Errorf("%w: token_refresh_interval and token_refresh_window must be positive", ErrInvalidConfig)
	}
	return nil
}

// Channels returns the comma separated TWITCH_CHANNELS as a list without '#' prefixes.
func (c *Config) Channels() []string {
	var out []string
	for _, ch := range strings.Split(c.TwitchChannels, ",") {
		ch = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ch)), "#")
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c *Config) AllowedOrigins() []string {
	out := []string{}
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// Permissive reports whether CORS should allow any origin: always in dev, unless overridden.
func (c *Config) Permissive() bool {
	if c.CORSPermissive != "" {
		return c.CORSPermissive == "1" || strings.EqualFold(c.CORSPermissive, "true")
	}
	mode := strings.ToLower(c.Env)
	return mode == "" || mode == "dev" || mode == "development"
}

// ValidateChatReady checks required fields when the chat bot is enabled.
func (c *Config) ValidateChatReady() error {
	if len(c.Channels()) == 0 || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("%w: missing twitch env: require TWITCH_CHANNELS, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN", ErrInvalidConfig)
	}
	return nil
}

// TokenRefreshReady reports whether the bot token can be refreshed through Twitch.
func (c *Config) TokenRefreshReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}
