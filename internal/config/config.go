package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"offer-stall-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Voluum    VoluumConfig    `mapstructure:"voluum"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	State     StateConfig     `mapstructure:"state"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// VoluumConfig covers tracking-platform API access. Either the access-key
// pair or email/password must be present before a report can be fetched.
type VoluumConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Email           string        `mapstructure:"email"`
	Password        string        `mapstructure:"password"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	AccessKeySecret string        `mapstructure:"access_key_secret"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReportWindow    time.Duration `mapstructure:"report_window"`
	PageLimit       int           `mapstructure:"page_limit"`
}

// TelegramConfig describes the notification destination.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DetectorConfig holds the stalled-offer rule thresholds.
type DetectorConfig struct {
	ClickThresholdLow  int64         `mapstructure:"click_threshold_low"`
	WaitLow            time.Duration `mapstructure:"wait_low"`
	ClickThresholdHigh int64         `mapstructure:"click_threshold_high"`
	WaitHigh           time.Duration `mapstructure:"wait_high"`
}

// SchedulerConfig governs the delta-poll cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ServerConfig configures the postback relay HTTP server.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	CronSecret string `mapstructure:"cron_secret"`
}

// StateConfig locates the persisted state documents.
type StateConfig struct {
	Path      string `mapstructure:"path"`
	DeltaPath string `mapstructure:"delta_path"`
}

// DatabaseConfig encapsulates optional PostgreSQL history storage.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	// AuditRetention prunes stall-alert audit rows older than this after
	// each scan cycle; zero disables pruning.
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

// DigestConfig tunes the latest-conversions digest command.
type DigestConfig struct {
	Limit int `mapstructure:"limit"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFERWATCH")
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
	v.SetDefault("app.name", "offerwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("voluum.base_url", "https://api.voluum.com")
	v.SetDefault("voluum.request_timeout", "30s")
	v.SetDefault("voluum.report_window", "24h")
	v.SetDefault("voluum.page_limit", 100)

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("detector.click_threshold_low", int64(60))
	v.SetDefault("detector.wait_low", "90m")
	v.SetDefault("detector.click_threshold_high", int64(125))
	v.SetDefault("detector.wait_high", "1h")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f666677))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("server.listen_addr", ":5000")

	v.SetDefault("state.path", ".offerwatch_state.json")
	v.SetDefault("state.delta_path", ".offerwatch_delta.json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.audit_retention", "720h")

	v.SetDefault("digest.limit", 3)
	v.SetDefault("export.max_data_points", 100000)
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Detector.ClickThresholdLow <= 0 {
		return fmt.Errorf("detector.click_threshold_low must be greater than zero")
	}
	if c.Detector.ClickThresholdHigh <= 0 {
		return fmt.Errorf("detector.click_threshold_high must be greater than zero")
	}
	if c.Detector.WaitLow <= 0 || c.Detector.WaitHigh <= 0 {
		return fmt.Errorf("detector wait durations must be greater than zero")
	}
	if c.Voluum.PageLimit <= 0 {
		return fmt.Errorf("voluum.page_limit must be greater than zero")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Digest.Limit <= 0 {
		return fmt.Errorf("digest.limit must be greater than zero")
	}
	return nil
}

// HasVoluumCredentials reports whether either credential pair is configured.
func (c *VoluumConfig) HasVoluumCredentials() bool {
	if c.AccessKeyID != "" && c.AccessKeySecret != "" {
		return true
	}
	return c.Email != "" && c.Password != ""
}

// HasTelegram reports whether the notification destination is configured.
func (c *TelegramConfig) HasTelegram() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
