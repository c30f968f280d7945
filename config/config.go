package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod" yaml:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord" yaml:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`

	// Polymarket endpoints
	Polymarket PolymarketConfig `json:"polymarket" yaml:"polymarket"`

	// Monitoring loop timing
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Dedup and throttle windows
	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`

	// Order execution
	Execution ExecutionConfig `json:"execution" yaml:"execution"`

	// Defaults applied to new sessions when the request leaves a field empty
	SessionDefaults SessionDefaultsConfig `json:"session_defaults" yaml:"session_defaults"`

	// Persistence - excluded from settings (env var only)
	Storage StorageConfig `json:"-" yaml:"storage"`

	// GitHub Gist - excluded from settings (env var only)
	Gist GistConfig `json:"-" yaml:"-"`

	// Market websocket price feed
	PriceFeed PriceFeedConfig `json:"price_feed" yaml:"price_feed"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server" yaml:"health_server"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id" yaml:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id" yaml:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id" yaml:"beta_chat_id"`
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url" yaml:"gamma_api_url"`
	DataAPIURL  string `json:"data_api_url" yaml:"data_api_url"`
	ClobURL     string `json:"clob_url" yaml:"clob_url"`
	MarketWSURL string `json:"market_ws_url" yaml:"market_ws_url"`
	ChainID     int64  `json:"chain_id" yaml:"chain_id"`
}

// MonitorConfig holds the timing of a monitoring session.
type MonitorConfig struct {
	TickInterval     time.Duration `json:"tick_interval" yaml:"tick_interval"`
	MinSleep         time.Duration `json:"min_sleep" yaml:"min_sleep"`
	ErrorBackoff     time.Duration `json:"error_backoff" yaml:"error_backoff"`
	ExitCheckEvery   time.Duration `json:"exit_check_every" yaml:"exit_check_every"` // SL/TP poll interval
	RecentWindow     time.Duration `json:"recent_window" yaml:"recent_window"`       // Only trades newer than this are candidates
	ActivityLimit    int           `json:"activity_limit" yaml:"activity_limit"`
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

// LedgerConfig holds dedup and anti-spam windows.
type LedgerConfig struct {
	DedupWindow       time.Duration `json:"dedup_window" yaml:"dedup_window"`
	DedupRetention    time.Duration `json:"dedup_retention" yaml:"dedup_retention"`
	ThrottleWindow    time.Duration `json:"throttle_window" yaml:"throttle_window"`
	ThrottleMaxOrders int           `json:"throttle_max_orders" yaml:"throttle_max_orders"`
}

// ExecutionConfig holds order placement configuration.
type ExecutionConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	CredentialTTL time.Duration `json:"credential_ttl" yaml:"credential_ttl"`
	SignatureType int           `json:"signature_type" yaml:"signature_type"` // 0 EOA, 1 email proxy, 2 browser proxy
}

// SessionDefaultsConfig holds the values a session falls back to.
type SessionDefaultsConfig struct {
	Duration          time.Duration `json:"duration" yaml:"duration"`
	MinNotional       float64       `json:"min_notional" yaml:"min_notional"`
	MinPrice          float64       `json:"min_price" yaml:"min_price"`
	MaxPrice          float64       `json:"max_price" yaml:"max_price"`
	RequireFirstBet   bool          `json:"require_first_bet" yaml:"require_first_bet"`
	Margin            float64       `json:"margin" yaml:"margin"` // USDC per replicated order, 0 = monitoring only
	StopLossPercent   *float64      `json:"stop_loss_percent,omitempty" yaml:"stop_loss_percent"`
	TakeProfitPercent *float64      `json:"take_profit_percent,omitempty" yaml:"take_profit_percent"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend     string `json:"-" yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `json:"-" yaml:"-"`
	RedisURL    string `json:"-" yaml:"-"`
}

// GistConfig holds GitHub Gist configuration.
type GistConfig struct {
	Token  string `json:"-"` // Excluded - env var only
	GistID string `json:"-"` // Excluded - env var only
}

// PriceFeedConfig holds the market websocket configuration.
type PriceFeedConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Port     int    `json:"port" yaml:"port"`
	APIToken string `json:"-" yaml:"-"` // Excluded - env var only
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionDefaults.StopLossPercent != nil {
		v := *c.SessionDefaults.StopLossPercent
		clone.SessionDefaults.StopLossPercent = &v
	}
	if c.SessionDefaults.TakeProfitPercent != nil {
		v := *c.SessionDefaults.TakeProfitPercent
		clone.SessionDefaults.TakeProfitPercent = &v
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
			DataAPIURL:  "https://data-api.polymarket.com",
			ClobURL:     "https://clob.polymarket.com",
			MarketWSURL: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:     137,
		},
		Monitor: MonitorConfig{
			TickInterval:     5 * time.Second,
			MinSleep:         1 * time.Second,
			ErrorBackoff:     10 * time.Second,
			ExitCheckEvery:   30 * time.Second,
			RecentWindow:     2 * time.Minute,
			ActivityLimit:    10,
			SnapshotInterval: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			DedupWindow:       30 * time.Minute,
			DedupRetention:    60 * time.Minute,
			ThrottleWindow:    30 * time.Minute,
			ThrottleMaxOrders: 3,
		},
		Execution: ExecutionConfig{
			MaxAttempts:   3,
			RetryBackoff:  15 * time.Second,
			CredentialTTL: 50 * time.Minute,
			SignatureType: 2,
		},
		SessionDefaults: SessionDefaultsConfig{
			Duration:    time.Hour,
			MinNotional: 1,
			MinPrice:    0.01,
			MaxPrice:    0.99,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		PriceFeed: PriceFeedConfig{
			Enabled: true,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from a .env file, environment variables and
// defaults. When CONFIG_FILE is set the YAML file is applied on top.
func Load() (*Config, error) {
	_ = godotenv.Load()

	d := Defaults()
	cfg := &Config{
		IsProd: envBool("STAGE", "PROD"),

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

		Polymarket: PolymarketConfig{
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
			DataAPIURL:  envString("POLYMARKET_DATA_API_URL", d.Polymarket.DataAPIURL),
			ClobURL:     envString("POLYMARKET_CLOB_URL", d.Polymarket.ClobURL),
			MarketWSURL: envString("POLYMARKET_MARKET_WS_URL", d.Polymarket.MarketWSURL),
			ChainID:     envInt64("POLYMARKET_CHAIN_ID", d.Polymarket.ChainID),
		},

		Monitor: MonitorConfig{
			TickInterval:     envDuration("MONITOR_TICK_INTERVAL", d.Monitor.TickInterval),
			MinSleep:         envDuration("MONITOR_MIN_SLEEP", d.Monitor.MinSleep),
			ErrorBackoff:     envDuration("MONITOR_ERROR_BACKOFF", d.Monitor.ErrorBackoff),
			ExitCheckEvery:   envDuration("MONITOR_EXIT_CHECK_INTERVAL", d.Monitor.ExitCheckEvery),
			RecentWindow:     envDuration("MONITOR_RECENT_WINDOW", d.Monitor.RecentWindow),
			ActivityLimit:    envInt("MONITOR_ACTIVITY_LIMIT", d.Monitor.ActivityLimit),
			SnapshotInterval: envDuration("MONITOR_SNAPSHOT_INTERVAL", d.Monitor.SnapshotInterval),
		},

		Ledger: LedgerConfig{
			DedupWindow:       envDuration("DEDUP_WINDOW", d.Ledger.DedupWindow),
			DedupRetention:    envDuration("DEDUP_RETENTION", d.Ledger.DedupRetention),
			ThrottleWindow:    envDuration("THROTTLE_WINDOW", d.Ledger.ThrottleWindow),
			ThrottleMaxOrders: envInt("THROTTLE_MAX_ORDERS", d.Ledger.ThrottleMaxOrders),
		},

		Execution: ExecutionConfig{
			MaxAttempts:   envInt("EXECUTION_MAX_ATTEMPTS", d.Execution.MaxAttempts),
			RetryBackoff:  envDuration("EXECUTION_RETRY_BACKOFF", d.Execution.RetryBackoff),
			CredentialTTL: envDuration("EXECUTION_CREDENTIAL_TTL", d.Execution.CredentialTTL),
			SignatureType: envInt("EXECUTION_SIGNATURE_TYPE", d.Execution.SignatureType),
		},

		SessionDefaults: SessionDefaultsConfig{
			Duration:          envDuration("SESSION_DURATION", d.SessionDefaults.Duration),
			MinNotional:       envFloat("SESSION_MIN_NOTIONAL", d.SessionDefaults.MinNotional),
			MinPrice:          envFloat("SESSION_MIN_PRICE", d.SessionDefaults.MinPrice),
			MaxPrice:          envFloat("SESSION_MAX_PRICE", d.SessionDefaults.MaxPrice),
			RequireFirstBet:   envBoolDefault("SESSION_REQUIRE_FIRST_BET", false),
			Margin:            envFloat("SESSION_MARGIN", 0),
			StopLossPercent:   envFloatPtr("SESSION_STOP_LOSS_PERCENT"),
			TakeProfitPercent: envFloatPtr("SESSION_TAKE_PROFIT_PERCENT"),
		},

		Storage: StorageConfig{
			Backend:     strings.ToLower(envString("STORAGE_BACKEND", d.Storage.Backend)),
			PostgresDSN: envString("DATABASE_URL", ""),
			RedisURL:    envString("REDIS_URL", ""),
		},

		Gist: GistConfig{
			Token:  envString("GITHUB_TOKEN", ""),
			GistID: envString("SETTINGS_GIST_ID", ""),
		},

		PriceFeed: PriceFeedConfig{
			Enabled: envBoolDefault("PRICE_FEED_ENABLED", d.PriceFeed.Enabled),
		},

		HealthServer: HealthServerConfig{
			Enabled:  envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:     envInt("HEALTH_SERVER_PORT", 8080),
			APIToken: envString("API_TOKEN", ""),
		},
	}

	if path := envString("CONFIG_FILE", ""); path != "" {
		return LoadFile(path, cfg)
	}
	return cfg, nil
}

// LoadFile applies a YAML file on top of base. A missing file leaves base
// untouched.
func LoadFile(path string, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Helper functions for parsing environment variables

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

func envInt64(key string, defaultVal int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// envFloatPtr returns nil when the variable is unset or unparsable.
func envFloatPtr(key string) *float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
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

// NormalizeWallet lowercases and trims a wallet address.
func NormalizeWallet(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}
