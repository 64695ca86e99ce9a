// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = "8080"
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "info"
)

// Config holds the server settings.
type Config struct {
	Host            string
	Port            string
	ShutdownTimeout time.Duration
	LogLevel        string
	MetricsEnabled  bool
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Load reads the given .env files (missing files are ignored) and then the
// process environment. Variables already set in the environment win over .env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Host:            getenv("HOST", defaultHost),
		Port:            getenv("PORT", defaultPort),
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        getenv("LOG_LEVEL", defaultLogLevel),
		MetricsEnabled:  true,
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %q", cfg.Port)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q", v)
		}
		cfg.ShutdownTimeout = d
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err)
		}
		cfg.MetricsEnabled = enabled
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
