package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config drives the API server process.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type StoreConfig struct {
	Mode        string `mapstructure:"mode"` // "memory" or "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type BridgeConfig struct {
	BroadcastURL   string `mapstructure:"broadcast_url"`
	QueueSize      int    `mapstructure:"queue_size"`
	DialTimeoutSec int    `mapstructure:"dial_timeout_sec"`
	MinBackoffSec  int    `mapstructure:"min_backoff_sec"`
	MaxBackoffSec  int    `mapstructure:"max_backoff_sec"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("store.mode", "memory")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("bridge.broadcast_url", "ws://127.0.0.1:8001/submit")
	v.SetDefault("bridge.queue_size", 256)
	v.SetDefault("bridge.dial_timeout_sec", 10)
	v.SetDefault("bridge.min_backoff_sec", 1)
	v.SetDefault("bridge.max_backoff_sec", 30)
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("FEEDWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("store.postgres_dsn", "FEEDWIRE_POSTGRES_DSN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.Mode != "memory" && c.Store.Mode != "postgres" {
		return fmt.Errorf("store mode must be memory or postgres, got %q", c.Store.Mode)
	}
	if c.Store.Mode == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required in postgres mode (set FEEDWIRE_POSTGRES_DSN)")
	}
	if !strings.HasPrefix(c.Bridge.BroadcastURL, "ws://") && !strings.HasPrefix(c.Bridge.BroadcastURL, "wss://") {
		return fmt.Errorf("broadcast_url must be a ws:// or wss:// URL, got %q", c.Bridge.BroadcastURL)
	}
	if c.Bridge.QueueSize < 1 {
		return fmt.Errorf("bridge queue_size must be >= 1")
	}
	return nil
}
