package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds server and client configuration values.
type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error disabled off"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Store    StoreConfig   `mapstructure:"store" yaml:"store"`
	Session  SessionConfig `mapstructure:"session" yaml:"session"`
	Notify   NotifyConfig  `mapstructure:"notify" yaml:"notify"`
}

// ServerConfig configures the realtime store server.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"min=1024"`
	// MessagesPerMinute limits inbound websocket frames per connection. Zero disables the limit.
	MessagesPerMinute int    `mapstructure:"messages_per_minute" yaml:"messages_per_minute" validate:"min=0"`
	Backend           string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis"`
}

// StoreConfig selects the realtime store a client talks to.
type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend" validate:"oneof=remote redis memory"`
	URL     string      `mapstructure:"url" yaml:"url" validate:"required_if=Backend remote"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis backend, used by both server and client.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	Password      string        `mapstructure:"password" yaml:"password"`
	DB            int           `mapstructure:"db" yaml:"db" validate:"min=0"`
	Prefix        string        `mapstructure:"prefix" yaml:"prefix" validate:"required"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl" validate:"min=1s"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// SessionConfig configures the locally persisted session.
type SessionConfig struct {
	DBPath       string `mapstructure:"db_path" yaml:"db_path" validate:"required"`
	MessageLimit int    `mapstructure:"message_limit" yaml:"message_limit" validate:"min=1,max=50"`
}

// NotifyConfig selects how push notifications are delivered.
type NotifyConfig struct {
	Mode       string        `mapstructure:"mode" yaml:"mode" validate:"oneof=log webhook none"`
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url" validate:"required_if=Mode webhook"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			MaxMessageBytes:   1 << 16,
			MessagesPerMinute: 600,
			Backend:           "memory",
		},
		Store: StoreConfig{
			Backend: "remote",
			URL:     "ws://localhost:8080/ws",
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				Prefix:        "feelings",
				LeaseTTL:      30 * time.Second,
				SweepInterval: 10 * time.Second,
			},
		},
		Session: SessionConfig{
			DBPath:       "feelings-session.db",
			MessageLimit: 50,
		},
		Notify: NotifyConfig{
			Mode:    "log",
			Timeout: 5 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Server.Backend != "" {
		c.Server.Backend = other.Server.Backend
	}
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.URL != "" {
		c.Store.URL = other.Store.URL
	}
	if other.Store.Redis.Addr != "" {
		c.Store.Redis.Addr = other.Store.Redis.Addr
	}
	if other.Session.DBPath != "" {
		c.Session.DBPath = other.Session.DBPath
	}
	if other.Notify.Mode != "" {
		c.Notify.Mode = other.Notify.Mode
	}
	if other.Notify.WebhookURL != "" {
		c.Notify.WebhookURL = other.Notify.WebhookURL
	}
}

// Validate checks field constraints declared in struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
