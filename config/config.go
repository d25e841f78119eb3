package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Solana Tracker API (REST + WebSocket)
	Tracker TrackerConfig `json:"tracker"`

	// Streaming connection tuning
	Stream StreamConfig `json:"stream"`

	// Recent-trades feed
	Feed FeedConfig `json:"feed"`

	// Large-trade alerting
	Alerts AlertsConfig `json:"alerts"`

	// Persisted wallet list
	Wallets WalletsConfig `json:"wallets"`

	// GitHub Gist - excluded from serialized settings (env var only)
	Gist GistConfig `json:"-"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Status server
	StatusServer StatusServerConfig `json:"status_server"`
}

// TrackerConfig holds Solana Tracker endpoints and credentials.
type TrackerConfig struct {
	DataAPIURL  string `json:"data_api_url"`
	WSURL       string `json:"ws_url"`
	ResolverURL string `json:"resolver_url"` // optional proxy that resolves the authenticated WS URL
	APIKey      string `json:"-"`            // Excluded - env var only
}

// StreamConfig holds WebSocket connection tuning.
type StreamConfig struct {
	ClientID            string        `json:"client_id"`
	PingInterval        time.Duration `json:"ping_interval"`
	ReconnectBaseDelay  time.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `json:"reconnect_max_delay"`
	RandomizationFactor float64       `json:"randomization_factor"`
}

// FeedConfig holds recent-trades feed configuration.
type FeedConfig struct {
	MaxEntries    int  `json:"max_entries"`
	BackfillOnAdd bool `json:"backfill_on_add"` // fetch one page of history when a wallet is added
}

// AlertsConfig holds large-trade alerting configuration.
type AlertsConfig struct {
	MinNotional float64 `json:"min_notional"` // minimum USD volume to alert on (0 = alerts disabled)
}

// WalletsConfig holds wallet list persistence configuration.
type WalletsConfig struct {
	FileName string `json:"file_name"`
}

// GistConfig holds GitHub Gist configuration.
type GistConfig struct {
	Token  string `json:"-"` // Excluded - env var only
	GistID string `json:"-"` // Excluded - env var only
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// StatusServerConfig holds status/health server configuration.
type StatusServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Tracker: TrackerConfig{
			DataAPIURL: "https://data.solanatracker.io",
			WSURL:      "wss://stream.solanatracker.io",
		},
		Stream: StreamConfig{
			ClientID:            "solana-tracker",
			PingInterval:        30 * time.Second,
			ReconnectBaseDelay:  2500 * time.Millisecond,
			ReconnectMaxDelay:   4500 * time.Millisecond,
			RandomizationFactor: 0.5,
		},
		Feed: FeedConfig{
			MaxEntries:    100,
			BackfillOnAdd: true,
		},
		Alerts: AlertsConfig{
			MinNotional: 0,
		},
		Wallets: WalletsConfig{
			FileName: "wallets.json",
		},
		StatusServer: StatusServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Tracker: TrackerConfig{
			DataAPIURL:  envString("TRACKER_DATA_API_URL", "https://data.solanatracker.io"),
			WSURL:       envString("TRACKER_WS_URL", "wss://stream.solanatracker.io"),
			ResolverURL: envString("TRACKER_RESOLVER_URL", ""),
			APIKey:      envString("TRACKER_API_KEY", ""),
		},

		Stream: StreamConfig{
			ClientID:            envString("STREAM_CLIENT_ID", "solana-tracker"),
			PingInterval:        envDuration("STREAM_PING_INTERVAL", 30*time.Second),
			ReconnectBaseDelay:  envDuration("STREAM_RECONNECT_BASE_DELAY", 2500*time.Millisecond),
			ReconnectMaxDelay:   envDuration("STREAM_RECONNECT_MAX_DELAY", 4500*time.Millisecond),
			RandomizationFactor: envFloat("STREAM_RANDOMIZATION_FACTOR", 0.5),
		},

		Feed: FeedConfig{
			MaxEntries:    envInt("FEED_MAX_ENTRIES", 100),
			BackfillOnAdd: envBoolDefault("FEED_BACKFILL_ON_ADD", true),
		},

		Alerts: AlertsConfig{
			MinNotional: envFloat("ALERT_MIN_NOTIONAL", 0),
		},

		Wallets: WalletsConfig{
			FileName: envString("WALLETS_FILE_NAME", "wallets.json"),
		},

		Gist: GistConfig{
			Token:  envString("GITHUB_TOKEN", ""),
			GistID: envString("GIST_ID", ""),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		StatusServer: StatusServerConfig{
			Enabled: envBoolDefault("STATUS_SERVER_ENABLED", true),
			Port:    envInt("STATUS_SERVER_PORT", 8080),
		},
	}
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
