package config

import (
	"fmt"
	"os"
	"time"
)

// BroadcastConfig drives the standalone broadcast server process.
type BroadcastConfig struct {
	Port            string
	FlushInterval   time.Duration
	MaxClients      int
	AcceptPerSecond float64
	AcceptBurst     int
	LogLevel        string
}

func LoadBroadcastConfig() (*BroadcastConfig, error) {
	flushStr := getEnvOrDefault("FEEDWIRE_FLUSH_INTERVAL", "100ms")
	flush, err := time.ParseDuration(flushStr)
	if err != nil {
		flush = 100 * time.Millisecond
	}

	cfg := &BroadcastConfig{
		Port:            getEnvOrDefault("FEEDWIRE_BROADCAST_PORT", "8001"),
		FlushInterval:   flush,
		MaxClients:      1024,
		AcceptPerSecond: 50,
		AcceptBurst:     100,
		LogLevel:        getEnvOrDefault("FEEDWIRE_LOG_LEVEL", "info"),
	}

	if cfg.FlushInterval < time.Millisecond {
		return nil, fmt.Errorf("flush interval too small: %s", cfg.FlushInterval)
	}
	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
