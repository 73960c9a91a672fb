package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/wattnpapa/S1-Control-sub000/internal/backup"
	"github.com/wattnpapa/S1-Control-sub000/internal/presence"
)

// Config is the top-level TOML structure for a workstation.
//
//	database = "/srv/einsatz/einsatz.sqlite"
//	open_retries = 4
//
//	[presence]
//	interval = "5s"
//	stale_after = "30s"
//
//	[backup]
//	enabled = true
//	interval = "10s"
//	min_spacing = "5m"
//
//	[audit]
//	dsns = ["postgres://audit:pw@server/audit?sslmode=disable"]
//
//	[server]
//	listen = ":8732"
//	base_path = "/api"
//
//	[log]
//	dir = "/var/log/s1control"
//	level = "info"
type Config struct {
	Database    string         `toml:"database" mapstructure:"database"`
	OpenRetries int            `toml:"open_retries" mapstructure:"open_retries"`
	Presence    PresenceConfig `toml:"presence" mapstructure:"presence"`
	Backup      BackupConfig   `toml:"backup" mapstructure:"backup"`
	Audit       AuditConfig    `toml:"audit" mapstructure:"audit"`
	Server      ServerConfig   `toml:"server" mapstructure:"server"`
	Log         LogConfig      `toml:"log" mapstructure:"log"`
}

type PresenceConfig struct {
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	StaleAfter time.Duration `toml:"stale_after" mapstructure:"stale_after"`
}

type BackupConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	MinSpacing time.Duration `toml:"min_spacing" mapstructure:"min_spacing"`
}

type AuditConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		OpenRetries: 4,
		Presence: PresenceConfig{
			Interval:   presence.DefaultInterval,
			StaleAfter: presence.DefaultStaleAfter,
		},
		Backup: BackupConfig{
			Enabled:    true,
			Interval:   backup.DefaultInterval,
			MinSpacing: backup.DefaultMinSpacing,
		},
		Server: ServerConfig{
			Listen:   ":8732",
			BasePath: "/api",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a TOML config file and fills unset values with defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	c := Default()
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("config: database path is required")
	}
	if c.Presence.Interval <= 0 || c.Presence.StaleAfter <= 0 {
		return errors.New("config: presence intervals must be positive")
	}
	if c.Presence.StaleAfter <= c.Presence.Interval {
		return fmt.Errorf("config: stale_after (%s) must exceed the heartbeat interval (%s)",
			c.Presence.StaleAfter, c.Presence.Interval)
	}
	if c.Backup.Interval <= 0 || c.Backup.MinSpacing <= 0 {
		return errors.New("config: backup intervals must be positive")
	}
	return nil
}
