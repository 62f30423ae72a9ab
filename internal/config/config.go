// Package config loads the daemon's Config from the process
// environment, an optional .env file, and an optional JSON overlay
// file, then validates it. A Watcher (watcher.go) layers filesystem
// hot-reload on top: a debounced fsnotify loop over the overlay file
// when SELFSTART_CONFIG_FILE is set, otherwise the resolved env-file
// path.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is every environment-driven daemon setting.
type Config struct {
	RedisURL       string        `json:"redis_url"`
	APIPort        int           `json:"api_port"`
	APIHost        string        `json:"api_host"`
	BaseDomain     string        `json:"base_domain"`
	StartupTimeout time.Duration `json:"startup_timeout"`
	EnableAuth     bool          `json:"enable_auth"`
	APIToken       string        `json:"api_token"`
	FrontendPort   int           `json:"frontend_port"`
	DevMode        bool          `json:"dev_mode"`
	TZ             string        `json:"tz"`

	// ConfigFile is SELFSTART_CONFIG_FILE: an optional JSON overlay
	// applied on top of the environment, for settings easier to manage
	// as a file than a long env var list. Not itself persisted.
	ConfigFile string `json:"-"`
}

// Default returns the documented defaults, applied before the
// environment and any overlay file are read.
func Default() Config {
	return Config{
		APIPort:        8080,
		APIHost:        "0.0.0.0",
		StartupTimeout: 120 * time.Second,
		FrontendPort:   3000,
		TZ:             "UTC",
	}
}

// Load builds a Config from process defaults, a discovered .env file
// (see findEnvFile), process environment variables (which win over
// .env), and finally SELFSTART_CONFIG_FILE's JSON overlay if set.
func Load() (*Config, error) {
	if envPath, ok := findEnvFile(); ok {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	cfg := Default()
	applyEnv(&cfg)

	if cfg.ConfigFile != "" {
		if err := applyOverlay(&cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v, ok := envInt("API_PORT"); ok {
		cfg.APIPort = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v := os.Getenv("BASE_DOMAIN"); v != "" {
		cfg.BaseDomain = v
	}
	if v, ok := envDuration("STARTUP_TIMEOUT"); ok {
		cfg.StartupTimeout = v
	}
	if v, ok := envBool("ENABLE_AUTH"); ok {
		cfg.EnableAuth = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v, ok := envInt("FRONTEND_PORT"); ok {
		cfg.FrontendPort = v
	}
	if v, ok := envBool("DEV_MODE"); ok {
		cfg.DevMode = v
	}
	if v := os.Getenv("TZ"); v != "" {
		cfg.TZ = v
	}
	if v := os.Getenv("SELFSTART_CONFIG_FILE"); v != "" {
		cfg.ConfigFile = v
	}
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overlay %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse overlay %s: %w", path, err)
	}
	return nil
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate enforces the handful of invariants a malformed environment
// could otherwise smuggle past startup.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: api_port %d out of range", c.APIPort)
	}
	if c.FrontendPort <= 0 || c.FrontendPort > 65535 {
		return fmt.Errorf("config: frontend_port %d out of range", c.FrontendPort)
	}
	if c.EnableAuth && c.APIToken == "" {
		return fmt.Errorf("config: enable_auth requires a non-empty api_token")
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("config: startup_timeout must be positive")
	}
	return nil
}
