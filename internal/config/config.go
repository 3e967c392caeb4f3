package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18790
	DefaultBufSize        = 100
	DefaultIssuer         = "taskhub"
	DefaultAccessTTL      = "5m"
	DefaultRefreshTTL     = "24h"
	DefaultReconcileCron  = "0 0 3 * * *"
	DefaultPurgeCron      = "0 30 4 * * *"
	DefaultRecurringEvery = 60
	DefaultReminderEvery  = 60
	DefaultRetentionDays  = 30
	DefaultPageSize       = 100
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Notify    NotifyConfig    `json:"notify"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	BufSize  int    `json:"bufSize,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type AuthConfig struct {
	Secret     string `json:"secret"`
	Issuer     string `json:"issuer,omitempty"`
	AccessTTL  string `json:"accessTtl,omitempty"`
	RefreshTTL string `json:"refreshTtl,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
	Proxy   string `json:"proxy,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// ReconcileCron and PurgeCron use six fields, seconds first.
	ReconcileCron  string `json:"reconcileCron,omitempty"`
	PurgeCron      string `json:"purgeCron,omitempty"`
	RecurringEvery int    `json:"recurringEverySeconds,omitempty"`
	ReminderEvery  int    `json:"reminderEverySeconds,omitempty"`
	RetentionDays  int    `json:"retentionDays"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			BufSize:  DefaultBufSize,
			PageSize: DefaultPageSize,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(ConfigDir(), "data", "taskhub.db"),
		},
		Auth: AuthConfig{
			Issuer:     DefaultIssuer,
			AccessTTL:  DefaultAccessTTL,
			RefreshTTL: DefaultRefreshTTL,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ReconcileCron:  DefaultReconcileCron,
			PurgeCron:      DefaultPurgeCron,
			RecurringEvery: DefaultRecurringEvery,
			ReminderEvery:  DefaultReminderEvery,
			RetentionDays:  DefaultRetentionDays,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".taskhub")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if host := os.Getenv("TASKHUB_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("TASKHUB_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if dbPath := os.Getenv("TASKHUB_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("TASKHUB_JWT_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if token := os.Getenv("TASKHUB_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chatID := os.Getenv("TASKHUB_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if enabled := os.Getenv("TASKHUB_SCHEDULER_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Scheduler.Enabled = parsed
		}
	}
	if days := os.Getenv("TASKHUB_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Scheduler.RetentionDays = parsed
		}
	}

	defaults := DefaultConfig()
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.BufSize <= 0 {
		cfg.Server.BufSize = DefaultBufSize
	}
	if cfg.Server.PageSize <= 0 {
		cfg.Server.PageSize = DefaultPageSize
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = DefaultIssuer
	}
	if cfg.Auth.AccessTTL == "" {
		cfg.Auth.AccessTTL = DefaultAccessTTL
	}
	if cfg.Auth.RefreshTTL == "" {
		cfg.Auth.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Scheduler.ReconcileCron == "" {
		cfg.Scheduler.ReconcileCron = DefaultReconcileCron
	}
	if cfg.Scheduler.PurgeCron == "" {
		cfg.Scheduler.PurgeCron = DefaultPurgeCron
	}
	if cfg.Scheduler.RecurringEvery <= 0 {
		cfg.Scheduler.RecurringEvery = DefaultRecurringEvery
	}
	if cfg.Scheduler.ReminderEvery <= 0 {
		cfg.Scheduler.ReminderEvery = DefaultReminderEvery
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

// Durations returns the parsed token lifetimes, falling back to the
// defaults for unparsable values.
func (a AuthConfig) Durations() (access, refresh time.Duration) {
	access = parseDuration(a.AccessTTL, DefaultAccessTTL)
	refresh = parseDuration(a.RefreshTTL, DefaultRefreshTTL)
	return access, refresh
}

func parseDuration(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

// Retention is how long soft-deleted tasks are kept; zero disables purging.
func (s SchedulerConfig) Retention() time.Duration {
	if s.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}
