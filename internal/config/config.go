package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	LedgerType         string        `mapstructure:"ledger_type"`
	LedgerPath         string        `mapstructure:"ledger_path"`
	LockTimeoutSeconds int64         `mapstructure:"lock_timeout_seconds"`
	LockTimeout        time.Duration `mapstructure:"-"`

	SourcesFile        string        `mapstructure:"sources_file"`
	NotifiersFile      string        `mapstructure:"notifiers_file"`
	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	UserAgent          string        `mapstructure:"user_agent"`

	// Credentials for destinations configured straight from the environment.
	MastodonInstance string `mapstructure:"mastodon_instance"`
	MastodonToken    string `mapstructure:"mastodon_token"`
	DiscordWebhook   string `mapstructure:"discord_webhook"`
	TelegramToken    string `mapstructure:"telegram_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
}

// Load reads configuration from environment variables and .env files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("app_name", "audiobook-herald")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("ledger_type", "csv")
	v.SetDefault("ledger_path", "books.csv")
	v.SetDefault("lock_timeout_seconds", 5)
	v.SetDefault("sources_file", "")
	v.SetDefault("notifiers_file", "")
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("user_agent", "")
	v.SetDefault("mastodon_instance", "")
	v.SetDefault("mastodon_token", "")
	v.SetDefault("discord_webhook", "")
	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", 0)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	c.LedgerType = strings.ToLower(strings.TrimSpace(c.LedgerType))
	c.LedgerPath = strings.TrimSpace(c.LedgerPath)
	c.MastodonInstance = strings.TrimRight(strings.TrimSpace(c.MastodonInstance), "/")

	switch c.LedgerType {
	case "csv", "bbolt", "sqlite":
	default:
		return fmt.Errorf("unsupported ledger_type %q (expected csv, bbolt or sqlite)", c.LedgerType)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path is required")
	}

	if c.LockTimeoutSeconds < 0 {
		return fmt.Errorf("invalid lock_timeout_seconds (must not be negative)")
	}
	c.LockTimeout = time.Duration(c.LockTimeoutSeconds) * time.Second

	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	c.HTTPTimeout = time.Duration(c.HTTPTimeoutSeconds) * time.Second

	if (c.MastodonInstance == "") != (c.MastodonToken == "") {
		return fmt.Errorf("mastodon_instance and mastodon_token must be set together")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("telegram_chat_id is required when telegram_token is set")
	}
	return nil
}

// WithLedgerPath returns a copy of the config pointing at a different ledger path.
func (c *Config) WithLedgerPath(path string) *Config {
	cp := *c
	if p := strings.TrimSpace(path); p != "" {
		cp.LedgerPath = p
	}
	return &cp
}
