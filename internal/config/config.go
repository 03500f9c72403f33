// Package config loads configuration from environment variables, with an
// optional YAML file underneath.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all vibenote configuration.
type Config struct {
	// Remote repository
	Repo       string `yaml:"repo"`     // "owner/name"
	Branch     string `yaml:"branch"`   // branch ref to reconcile against
	APIBaseURL string `yaml:"api_base"` // GitHub-style API root

	// Auth: either a static token, or GitHub App credentials
	Token              string `yaml:"token"`
	AppID              int64  `yaml:"app_id"`
	AppInstallationID  int64  `yaml:"app_installation_id"`
	AppPrivateKeyFile  string `yaml:"app_private_key_file"`

	// Local state
	StatePath    string `yaml:"state_path"`     // sqlite database file
	CacheDir     string `yaml:"cache_dir"`      // blob cache directory ("" disables)
	CacheMaxSize int64  `yaml:"cache_max_size"` // bytes

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics ("" disables the listener)
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads the optional YAML file named by VIBENOTE_CONFIG, then
// applies environment variables on top, then defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("VIBENOTE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Repo = envOr("VIBENOTE_REPO", cfg.Repo)
	cfg.Branch = envOr("VIBENOTE_BRANCH", cfg.Branch)
	cfg.APIBaseURL = envOr("VIBENOTE_API_BASE", cfg.APIBaseURL)
	cfg.Token = envOr("GITHUB_TOKEN", cfg.Token)
	cfg.AppID = envInt64("VIBENOTE_APP_ID", cfg.AppID)
	cfg.AppInstallationID = envInt64("VIBENOTE_APP_INSTALLATION_ID", cfg.AppInstallationID)
	cfg.AppPrivateKeyFile = envOr("VIBENOTE_APP_PRIVATE_KEY_FILE", cfg.AppPrivateKeyFile)
	cfg.StatePath = envOr("VIBENOTE_STATE", cfg.StatePath)
	cfg.CacheDir = envOr("VIBENOTE_CACHE_DIR", cfg.CacheDir)
	cfg.CacheMaxSize = envInt64("VIBENOTE_CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsAddr = envOr("METRICS_ADDR", cfg.MetricsAddr)

	applyDefaults(cfg)

	if cfg.Repo != "" && !strings.Contains(cfg.Repo, "/") {
		return nil, fmt.Errorf("VIBENOTE_REPO must be owner/name, got %q", cfg.Repo)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.StatePath = filepath.Join(home, ".vibenote", "state.db")
	}
	if cfg.CacheMaxSize == 0 {
		cfg.CacheMaxSize = 256 << 20 // 256MB
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
}

// SplitRepo splits "owner/name" into its parts.
func (c *Config) SplitRepo() (owner, name string, err error) {
	parts := strings.SplitN(c.Repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: must be owner/name", c.Repo)
	}
	return parts[0], parts[1], nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
