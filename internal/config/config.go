// Package config loads runtime configuration from defaults, an optional
// config file and GRIM_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"grimhollow/internal/logging"
)

// Config holds all runtime configuration for the Grimhollow server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Presence PresenceConfig `mapstructure:"presence"`
	Store    StoreConfig    `mapstructure:"store"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  logging.Config `mapstructure:"logging"`
}

// ServerConfig contains network settings for the WebSocket listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	WSPath          string        `mapstructure:"ws_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// AuthConfig controls session tokens and password policy.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// PresenceConfig controls heartbeat staleness detection.
type PresenceConfig struct {
	OfflineThreshold time.Duration `mapstructure:"offline_threshold"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// StoreConfig selects the persistent store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	DSN    string `mapstructure:"dsn"`
}

// NATSConfig controls the optional market event feed.
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// MetricsConfig controls the metrics/diagnostics HTTP listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// Load reads configuration from environment variables and an optional
// grimhollow.yaml file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_message_size", 64<<10)
	v.SetDefault("server.send_queue_size", 64)
	v.SetDefault("server.rate_per_second", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("presence.offline_threshold", 15*time.Second)
	v.SetDefault("presence.sweep_interval", 5*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "grimhollow.db")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "grimhollow.market.events")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9096")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetConfigName("grimhollow")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("GRIM")
	v.AutomaticEnv()

	// Config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Server.SendQueueSize <= 0 {
		cfg.Server.SendQueueSize = 64
	}
	if cfg.Presence.OfflineThreshold <= 0 {
		cfg.Presence.OfflineThreshold = 15 * time.Second
	}
	if cfg.Presence.SweepInterval <= 0 {
		cfg.Presence.SweepInterval = 5 * time.Second
	}

	return cfg, nil
}
