package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable holding the config file path when no flag is given.
const PathEnv = "MEMOALARM_CONFIG"

// Config is read from an optional YAML file, then overridden by the
// environment. Unset variables keep the file or default value.
type Config struct {
	DatabasePath    string        `yaml:"database_path" env:"DATABASE_PATH"`
	Timezone        string        `yaml:"timezone" env:"TIMEZONE"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
	Horizon         time.Duration `yaml:"horizon" env:"NOTIFICATION_HORIZON"`
	AutoGrant       bool          `yaml:"auto_grant" env:"NOTIFICATIONS_AUTO_GRANT"`

	TelegramToken string        `yaml:"telegram_token" env:"TELEGRAM_BOT_TOKEN"`
	OwnerChatID   int64         `yaml:"owner_chat_id" env:"OWNER_TELEGRAM_ID"`
	PromptTimeout time.Duration `yaml:"prompt_timeout" env:"PROMPT_TIMEOUT"`

	Production bool   `yaml:"production" env:"PRODUCTION"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`

	loc *time.Location
}

func Default() *Config {
	return &Config{
		DatabasePath:    "./data/memoalarm.db",
		Timezone:        "Local",
		RefreshInterval: time.Minute,
		Horizon:         24 * time.Hour,
		PromptTimeout:   2 * time.Minute,
		LogLevel:        "info",
	}
}

// Load builds the configuration. An empty path falls back to $MEMOALARM_CONFIG;
// with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("NOTIFICATION_HORIZON must be positive, got %s", c.Horizon)
	}
	if c.TelegramToken != "" && c.OwnerChatID == 0 {
		return fmt.Errorf("OWNER_TELEGRAM_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	tz := c.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.loc = loc
	return nil
}

// Location is the zone event dates and times are interpreted in.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

func (c *Config) IsOwner(chatID int64) bool {
	return chatID == c.OwnerChatID
}
