package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Sqlite3Bin         string `yaml:"sqlite3_bin"`
	LogLevel           string `yaml:"log_level"`
	HistoryDedupKey    string `yaml:"history_dedup_key"`
	SettingsDedupKey   string `yaml:"settings_dedup_key"`
	RecoverTimeoutSecs int    `yaml:"recover_timeout_secs"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/plexmend/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		Sqlite3Bin:         "sqlite3",
		LogLevel:           "info",
		RecoverTimeoutSecs: 600,
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional
	_ = loadYAMLConfig(cfg)

	if bin := os.Getenv("PLEXMEND_SQLITE3_BIN"); bin != "" {
		cfg.Sqlite3Bin = bin
	}
	if logLevel := os.Getenv("PLEXMEND_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if key := os.Getenv("PLEXMEND_HISTORY_DEDUP_KEY"); key != "" {
		cfg.HistoryDedupKey = key
	}
	if key := os.Getenv("PLEXMEND_SETTINGS_DEDUP_KEY"); key != "" {
		cfg.SettingsDedupKey = key
	}

	return cfg, nil
}

// DedupColumns splits a comma-separated dedup key into column names.
// Returns nil for an empty key so callers fall back to their default.
func DedupColumns(key string) []string {
	if key == "" {
		return nil
	}
	parts := strings.Split(key, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

// loadYAMLConfig loads configuration from ~/.config/plexmend/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "plexmend", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
