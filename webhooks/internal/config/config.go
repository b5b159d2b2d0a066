package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	NATS     NATSConfig      `mapstructure:"nats"`
	Guesty   GuestyConfig    `mapstructure:"guesty"`
	Webhook  WebhookConfig   `mapstructure:"webhook"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Store    StoreConfig     `mapstructure:"store"`
	Security SecurityConfig  `mapstructure:"security"`
	Admin    AdminConfig     `mapstructure:"admin"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the storage backend. Driver is "memory" or
// "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Name    string `mapstructure:"name"`
}

type GuestyConfig struct {
	TokenURL           string        `mapstructure:"token_url"`
	APIBaseURL         string        `mapstructure:"api_base_url"`
	Scopes             []string      `mapstructure:"scopes"`
	CacheBuffer        time.Duration `mapstructure:"cache_buffer"`
	StoredBuffer       time.Duration `mapstructure:"stored_buffer"`
	RetryFallbackDelay time.Duration `mapstructure:"retry_fallback_delay"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay"`
	RateLimitRPM       int           `mapstructure:"rate_limit_rpm"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

type WebhookConfig struct {
	SignatureHeader   string        `mapstructure:"signature_header"`
	EventIDHeader     string        `mapstructure:"event_id_header"`
	RequireSecret     bool          `mapstructure:"require_secret"`
	ReplayWindow      time.Duration `mapstructure:"replay_window"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	DefaultAccountID  string        `mapstructure:"default_account_id"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type StoreConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	StatsWindow   time.Duration `mapstructure:"stats_window"`
}

type SecurityConfig struct {
	// EncryptionKey is 64 hex chars. When empty, secrets are stored in
	// plaintext.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AccountConfig is one Guesty account declared in the config file.
type AccountConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Retention is the event retention as a duration.
func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// AccountModels converts the configured accounts.
func (c *Config) AccountModels() []models.Account {
	out := make([]models.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, models.Account{
			ID:            a.ID,
			Name:          a.Name,
			ClientID:      a.ClientID,
			ClientSecret:  a.ClientSecret,
			WebhookSecret: a.WebhookSecret,
		})
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "15m")
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "srg-webhooks")
	v.SetDefault("guesty.token_url", "https://open-api.guesty.com/oauth2/token")
	v.SetDefault("guesty.api_base_url", "https://open-api.guesty.com")
	v.SetDefault("guesty.scopes", []string{"read:listings", "read:reservations", "read:calendar", "write:calendar"})
	v.SetDefault("guesty.cache_buffer", "10m")
	v.SetDefault("guesty.stored_buffer", "5m")
	v.SetDefault("guesty.retry_fallback_delay", "1s")
	v.SetDefault("guesty.max_retry_delay", "60s")
	v.SetDefault("guesty.rate_limit_rpm", 60)
	v.SetDefault("guesty.request_timeout", "30s")
	v.SetDefault("webhook.signature_header", "X-Guesty-Signature")
	v.SetDefault("webhook.event_id_header", "X-Guesty-Event-Id")
	v.SetDefault("webhook.require_secret", true)
	v.SetDefault("webhook.replay_window", "5m")
	v.SetDefault("webhook.max_body_bytes", 1048576)
	v.SetDefault("webhook.default_account_id", "")
	v.SetDefault("webhook.rate_limit_enabled", false)
	v.SetDefault("webhook.rate_limit_requests", 600)
	v.SetDefault("webhook.rate_limit_window", "1m")
	v.SetDefault("queue.concurrency", 15)
	v.SetDefault("store.retention_days", 180)
	v.SetDefault("store.stats_window", "24h")
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("admin.api_key", "")
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/srg/webhooks")
	}

	// WEBHOOKS_DATABASE_URL overrides database.url
	v.SetEnvPrefix("WEBHOOKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from configPath (or the default search paths),
// then the environment. A .env file in the working directory is loaded into
// the environment first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for the postgres driver", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown database.driver %q", models.ErrConfiguration, c.Database.Driver)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("%w: queue.concurrency must be positive", models.ErrConfiguration)
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: webhook.max_body_bytes must be positive", models.ErrConfiguration)
	}
	if k := c.Security.EncryptionKey; k != "" && len(k) != 64 {
		return fmt.Errorf("%w: security.encryption_key must be 64 hex characters", models.ErrConfiguration)
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("%w: accounts[%d].id is required", models.ErrConfiguration, i)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate account %q", models.ErrConfiguration, a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Watch re-reads the config file whenever it changes and passes each valid
// result to onChange. Invalid edits are logged and skipped. Watch does
// nothing when no config file is in use.
func Watch(configPath string, logger *slog.Logger, onChange func(*Config)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		logger.Info("config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
