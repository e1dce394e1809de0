package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bosgateway/internal/account"
	"bosgateway/internal/live"
	"bosgateway/internal/logging"
)

// Live backends.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Logging   logging.Config   `mapstructure:"logging"`
	Server    ServerConfig     `mapstructure:"server"`
	Accounts  []account.Config `mapstructure:"accounts"`
	Bos       BosConfig        `mapstructure:"bos"`
	Report    ReportConfig     `mapstructure:"report"`
	Live      LiveConfig       `mapstructure:"live"`
	Redis     live.RedisConfig `mapstructure:"redis"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Retention RetentionConfig  `mapstructure:"retention"`
	Alerting  AlertingConfig   `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP API.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Tokens          []TokenConfig `mapstructure:"tokens"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// TokenConfig binds a bearer token to a user id.
type TokenConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

// TokenMap indexes the configured tokens.
func (s ServerConfig) TokenMap() map[string]string {
	out := make(map[string]string, len(s.Tokens))
	for _, t := range s.Tokens {
		out[t.Token] = t.UserID
	}
	return out
}

// BosConfig governs the external bos process.
type BosConfig struct {
	Binary        string        `mapstructure:"binary"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	ReportTimeout time.Duration `mapstructure:"report_timeout"`
	// FilesRoot confines credential reads; empty means the whole filesystem.
	FilesRoot string `mapstructure:"files_root"`
}

// ReportConfig sets the fixed report options.
type ReportConfig struct {
	RateProvider string `mapstructure:"rate_provider"`
}

// LiveConfig selects how progress events reach viewers.
type LiveConfig struct {
	Backend       string `mapstructure:"backend"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	QueueSize     int    `mapstructure:"queue_size"`
	SendBuffer    int    `mapstructure:"send_buffer"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RetentionConfig governs the job history sweeper.
type RetentionConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	KeepFor         time.Duration `mapstructure:"keep_for"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines settlement notifications.
type AlertingConfig struct {
	NotifySuccess bool           `mapstructure:"notify_success"`
	NotifyFailure bool           `mapstructure:"notify_failure"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BOSGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// loadDotenv exports variables from existing files without overriding the process env.
func loadDotenv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
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
	v.SetDefault("app.name", "bosgateway")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("bos.binary", "bos")
	v.SetDefault("bos.grace_period", "1m")
	v.SetDefault("bos.report_timeout", "10m")

	v.SetDefault("report.rate_provider", "coingecko")

	v.SetDefault("live.backend", BackendLocal)
	v.SetDefault("live.channel_prefix", live.DefaultChannelPrefix)
	v.SetDefault("live.queue_size", 256)
	v.SetDefault("live.send_buffer", 64)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.keep_for", "720h")
	v.SetDefault("retention.startup_delay", "0s")
	v.SetDefault("retention.advisory_lock_key", int64(0x626f7367))

	v.SetDefault("alerting.notify_success", true)
	v.SetDefault("alerting.notify_failure", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
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
	if c.Bos.Binary == "" {
		return fmt.Errorf("bos.binary is required")
	}
	if c.Bos.GracePeriod < 0 {
		return fmt.Errorf("bos.grace_period cannot be negative")
	}
	switch c.Live.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when live.backend is redis")
		}
	default:
		return fmt.Errorf("live.backend must be %q or %q, got %q", BackendLocal, BackendRedis, c.Live.Backend)
	}
	if c.Live.QueueSize <= 0 {
		return fmt.Errorf("live.queue_size must be greater than zero")
	}
	if c.Retention.Enabled {
		if c.Retention.Interval <= 0 {
			return fmt.Errorf("retention.interval must be greater than zero")
		}
		if c.Retention.KeepFor <= 0 {
			return fmt.Errorf("retention.keep_for must be greater than zero")
		}
	}
	seen := make(map[string]struct{}, len(c.Server.Tokens))
	for i, t := range c.Server.Tokens {
		if t.Token == "" || t.UserID == "" {
			return fmt.Errorf("server.tokens[%d] needs both token and user_id", i)
		}
		if _, dup := seen[t.Token]; dup {
			return fmt.Errorf("server.tokens[%d] duplicates an earlier token", i)
		}
		seen[t.Token] = struct{}{}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}
