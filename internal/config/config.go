// Package config loads application configuration from an optional TOML file
// and environment variables. Environment variables take precedence over the
// file; the file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	Port                 int    `toml:"port"`
	DBPath               string `toml:"db_path"`
	RsyncPath            string `toml:"rsync_path"`
	LogLevel             string `toml:"log_level"`
	RetentionDays        int    `toml:"retention_days"`
	RetentionDaysFromEnv bool   `toml:"-"`

	// AuthSignatures are the stderr substrings classified as authentication
	// failures during the preview run. The exact text varies across rsync
	// and ssh versions, so it stays configurable.
	AuthSignatures []string `toml:"auth_signatures"`
}

// Load reads configuration: defaults, then the TOML file named by
// RESYNC_CONFIG (if it exists), then environment overrides.
func Load() *Config {
	cfg := &Config{
		Port:           8080,
		DBPath:         "./data/resync.db",
		RsyncPath:      "rsync",
		LogLevel:       "info",
		RetentionDays:  30,
		AuthSignatures: []string{"Permission denied"},
	}

	if path := getEnv("RESYNC_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
	}

	cfg.Port = getEnvInt("RESYNC_PORT", cfg.Port)
	cfg.DBPath = ExpandPath(getEnv("RESYNC_DB_PATH", cfg.DBPath))
	cfg.RsyncPath = getEnv("RESYNC_RSYNC_PATH", cfg.RsyncPath)
	cfg.LogLevel = getEnv("RESYNC_LOG_LEVEL", cfg.LogLevel)

	if val := os.Getenv("RESYNC_RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			cfg.RetentionDays = days
			cfg.RetentionDaysFromEnv = true
		}
	}

	// Extra signatures alongside the configured ones, comma-separated
	if sigs := getEnv("RESYNC_AUTH_SIGNATURES", ""); sigs != "" {
		for _, s := range strings.Split(sigs, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				cfg.AuthSignatures = append(cfg.AuthSignatures, s)
			}
		}
	}

	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ExpandPath expands a leading "~" to the user's home directory and cleans
// the path. Relative paths stay relative.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return filepath.Clean(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
