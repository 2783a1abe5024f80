package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Session   SessionConfig   `mapstructure:"session"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Mail      MailConfig      `mapstructure:"mail"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and tunes the alert store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Supported price feed providers.
const (
	ProviderCoinGecko   = "coingecko"
	ProviderCoinPaprika = "coinpaprika"
)

// FeedConfig covers the public price API.
type FeedConfig struct {
	Provider   string            `mapstructure:"provider"`
	BaseURL    string            `mapstructure:"base_url"`
	APIKey     string            `mapstructure:"api_key"`
	Coins      []string          `mapstructure:"coins"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	UserAgent  string            `mapstructure:"user_agent"`
	PaprikaIDs map[string]string `mapstructure:"paprika_ids"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SessionConfig identifies the user the client session acts for.
type SessionConfig struct {
	UserID          string `mapstructure:"user_id"`
	UserEmail       string `mapstructure:"user_email"`
	TrackLastPrice  bool   `mapstructure:"track_last_price"`
	SingleEvaluator bool   `mapstructure:"single_evaluator"`
	AdvisoryLockKey int64  `mapstructure:"advisory_lock_key"`
	StatusAddr      string `mapstructure:"status_addr"`
}

// EvaluatorConfig holds the trigger and near-target policy.
type EvaluatorConfig struct {
	CloseThreshold     float64       `mapstructure:"close_threshold"`
	EmailThreshold     float64       `mapstructure:"email_threshold"`
	TriggerSuppression time.Duration `mapstructure:"trigger_suppression"`
	NearTargetCooldown time.Duration `mapstructure:"near_target_cooldown"`
}

// AlertingConfig defines notification channels of the client session.
type AlertingConfig struct {
	Email EmailChannelConfig `mapstructure:"email"`
	Push  PushConfig         `mapstructure:"push"`
}

// Email channel modes.
const (
	EmailModeBackend = "backend"
	EmailModeLog     = "log"
)

// EmailChannelConfig points the session at the notification relay.
type EmailChannelConfig struct {
	Mode     string        `mapstructure:"mode"`
	RelayURL string        `mapstructure:"relay_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PushConfig configures the OS-level push channel.
type PushConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for push notifications.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RelayConfig configures the notification relay HTTP server.
type RelayConfig struct {
	Port           int             `mapstructure:"port"`
	FrontendURL    string          `mapstructure:"frontend_url"`
	ExtraOrigins   []string        `mapstructure:"extra_origins"`
	BodyLimitBytes int64           `mapstructure:"body_limit_bytes"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP instead of the
	// connection address. Enable only behind a reverse proxy.
	TrustProxy     bool            `mapstructure:"trust_proxy"`
}

// RateLimitConfig is a fixed window budget per client IP.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Mail services understood by the relay.
const (
	MailServiceGmail   = "gmail"
	MailServiceOutlook = "outlook"
	MailServiceCustom  = "custom"
)

// MailConfig selects the SMTP transport used by the relay.
type MailConfig struct {
	Service     string     `mapstructure:"service"`
	User        string     `mapstructure:"user"`
	AppPassword string     `mapstructure:"app_password"`
	Password    string     `mapstructure:"password"`
	From        string     `mapstructure:"from"`
	SMTP        SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig is used when Service is custom.
type SMTPConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Secure bool   `mapstructure:"secure"`
	User   string `mapstructure:"user"`
	Pass   string `mapstructure:"pass"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxAlerts int `mapstructure:"max_alerts"`
}

// legacyEnv maps the environment variable names used by the legacy
// deployment onto config keys.
var legacyEnv = map[string][]string{
	"relay.port":               {"PORT"},
	"relay.frontend_url":       {"FRONTEND_URL"},
	"mail.service":             {"EMAIL_SERVICE"},
	"mail.user":                {"EMAIL_USER"},
	"mail.app_password":        {"EMAIL_APP_PASSWORD"},
	"mail.password":            {"EMAIL_PASSWORD"},
	"mail.from":                {"EMAIL_FROM"},
	"mail.smtp.host":           {"SMTP_HOST"},
	"mail.smtp.port":           {"SMTP_PORT"},
	"mail.smtp.secure":         {"SMTP_SECURE"},
	"mail.smtp.user":           {"SMTP_USER"},
	"mail.smtp.pass":           {"SMTP_PASS"},
	"alerting.email.relay_url": {"VITE_EMAIL_API_URL"},
	"alerting.email.mode":      {"VITE_EMAIL_SERVICE"},
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PRICEALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		// the prefixed name keeps priority over the legacy one
		args := append([]string{key, "PRICEALERTS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricealerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "pricealerts.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("feed.provider", ProviderCoinGecko)
	v.SetDefault("feed.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("feed.coins", DefaultCoins)
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.user_agent", "pricealerts/1.0")
	v.SetDefault("feed.paprika_ids", DefaultPaprikaIDs)

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("session.user_id", "")
	v.SetDefault("session.user_email", "")
	v.SetDefault("session.track_last_price", true)
	v.SetDefault("session.single_evaluator", false)
	v.SetDefault("session.advisory_lock_key", int64(0x70616c72))
	v.SetDefault("session.status_addr", "127.0.0.1:5180")

	v.SetDefault("evaluator.close_threshold", 0.8)
	v.SetDefault("evaluator.email_threshold", 0.9)
	v.SetDefault("evaluator.trigger_suppression", "60s")
	v.SetDefault("evaluator.near_target_cooldown", "30s")

	v.SetDefault("alerting.email.mode", EmailModeBackend)
	v.SetDefault("alerting.email.relay_url", "http://localhost:5000/api")
	v.SetDefault("alerting.email.timeout", "10s")
	v.SetDefault("alerting.push.enabled", false)
	v.SetDefault("alerting.push.telegram.bot_token", "")
	v.SetDefault("alerting.push.telegram.chat_id", "")
	v.SetDefault("alerting.push.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("relay.port", 5000)
	v.SetDefault("relay.frontend_url", "http://localhost:5176")
	v.SetDefault("relay.extra_origins", []string{"http://localhost:5173", "http://localhost:5174"})
	v.SetDefault("relay.body_limit_bytes", int64(10<<20))
	v.SetDefault("relay.rate_limit.requests", 10)
	v.SetDefault("relay.rate_limit.window", "60s")
	v.SetDefault("relay.trust_proxy", false)

	v.SetDefault("mail.service", MailServiceGmail)
	v.SetDefault("mail.smtp.port", 587)

	v.SetDefault("export.max_alerts", 500)
}

// DefaultCoins is the coin set polled when nothing else is configured.
var DefaultCoins = []string{"bitcoin", "ethereum", "cardano", "solana", "polkadot"}

// DefaultPaprikaIDs maps the default coins onto CoinPaprika identifiers.
var DefaultPaprikaIDs = map[string]string{
	"bitcoin":  "btc-bitcoin",
	"ethereum": "eth-ethereum",
	"cardano":  "ada-cardano",
	"solana":   "sol-solana",
	"polkadot": "dot-polkadot",
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	switch c.Feed.Provider {
	case ProviderCoinGecko, ProviderCoinPaprika:
	default:
		return fmt.Errorf("feed.provider %q is not supported", c.Feed.Provider)
	}
	if len(c.Feed.Coins) == 0 {
		return fmt.Errorf("feed.coins must list at least one coin")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Evaluator.CloseThreshold <= 0 || c.Evaluator.CloseThreshold >= 1 {
		return fmt.Errorf("evaluator.close_threshold must be within (0, 1)")
	}
	if c.Evaluator.EmailThreshold < c.Evaluator.CloseThreshold || c.Evaluator.EmailThreshold >= 1 {
		return fmt.Errorf("evaluator.email_threshold must be within [close_threshold, 1)")
	}
	if c.Evaluator.TriggerSuppression < 0 || c.Evaluator.NearTargetCooldown < 0 {
		return fmt.Errorf("evaluator durations cannot be negative")
	}
	switch c.Alerting.Email.Mode {
	case EmailModeBackend, EmailModeLog:
	default:
		return fmt.Errorf("alerting.email.mode %q is not supported", c.Alerting.Email.Mode)
	}
	if c.Alerting.Push.Enabled {
		if c.Alerting.Push.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.push.telegram.bot_token must be set when push is enabled")
		}
		if c.Alerting.Push.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.push.telegram.chat_id must be set when push is enabled")
		}
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be a valid TCP port")
	}
	if c.Relay.RateLimit.Requests < 0 {
		return fmt.Errorf("relay.rate_limit.requests cannot be negative")
	}
	if c.Relay.RateLimit.Requests > 0 && c.Relay.RateLimit.Window <= 0 {
		return fmt.Errorf("relay.rate_limit.window must be greater than zero")
	}
	if c.Export.MaxAlerts <= 0 {
		return fmt.Errorf("export.max_alerts must be greater than zero")
	}
	return nil
}

// AllowedOrigins lists the CORS origins accepted by the relay.
func (c *Config) AllowedOrigins() []string {
	origins := make([]string, 0, len(c.Relay.ExtraOrigins)+1)
	if c.Relay.FrontendURL != "" {
		origins = append(origins, c.Relay.FrontendURL)
	}
	for _, o := range c.Relay.ExtraOrigins {
		if o != "" && o != c.Relay.FrontendURL {
			origins = append(origins, o)
		}
	}
	return origins
}

// ResolveMaxAlerts returns either the CLI override or config default.
func (c *Config) ResolveMaxAlerts(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxAlerts
}
