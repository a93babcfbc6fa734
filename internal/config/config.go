package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Client    ClientConfig    `yaml:"client"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server settings for the reference API.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// DatabaseConfig contains server database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// ClientConfig contains settings for the offline-first client.
type ClientConfig struct {
	LocalPath      string   `yaml:"local_path"`
	APIURL         string   `yaml:"api_url"`
	APIToken       string   `yaml:"-"` // env-only, never in YAML
	SyncInterval   Duration `yaml:"sync_interval"`
	StaleAfter     Duration `yaml:"stale_after"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	RequestTimeout Duration `yaml:"request_timeout"`
	OfflineMode    bool     `yaml:"offline_mode"`
	SeedSampleData bool     `yaml:"seed_sample_data"`
}

// LogConfig contains logging settings. File output is rotated when File is
// set.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RateLimitConfig limits destructive requests on the reference API.
type RateLimitConfig struct {
	DeletesPerMinute int `yaml:"deletes_per_minute"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// The config path comes from FLASHSYNC_CONFIG_PATH.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("FLASHSYNC_CONFIG_PATH", "config/flashsync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "data/flashsync.db",
		},
		Client: ClientConfig{
			LocalPath:      "data/flashsync-client.db",
			APIURL:         "http://localhost:8080",
			SyncInterval:   Duration(5 * time.Minute),
			StaleAfter:     Duration(7 * 24 * time.Hour),
			ProbeInterval:  Duration(30 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			SeedSampleData: true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		RateLimit: RateLimitConfig{
			DeletesPerMinute: 30,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values; unparsable ones are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("FLASHSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("FLASHSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("FLASHSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("FLASHSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if v := os.Getenv("FLASHSYNC_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}

	// Database
	if v := os.Getenv("FLASHSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth
	if v := os.Getenv("FLASHSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Client
	if v := os.Getenv("FLASHSYNC_LOCAL_PATH"); v != "" {
		cfg.Client.LocalPath = v
	}
	if v := os.Getenv("FLASHSYNC_API_URL"); v != "" {
		cfg.Client.APIURL = v
	}
	if v := os.Getenv("FLASHSYNC_API_TOKEN"); v != "" {
		cfg.Client.APIToken = v
	}
	envDuration("FLASHSYNC_SYNC_INTERVAL", &cfg.Client.SyncInterval)
	envDuration("FLASHSYNC_STALE_AFTER", &cfg.Client.StaleAfter)
	envDuration("FLASHSYNC_PROBE_INTERVAL", &cfg.Client.ProbeInterval)
	envDuration("FLASHSYNC_REQUEST_TIMEOUT", &cfg.Client.RequestTimeout)
	if v := os.Getenv("FLASHSYNC_OFFLINE_MODE"); v != "" {
		cfg.Client.OfflineMode = v == "true" || v == "1"
	}
	if v := os.Getenv("FLASHSYNC_SEED_SAMPLE_DATA"); v != "" {
		cfg.Client.SeedSampleData = v == "true" || v == "1"
	}

	// Log
	if v := os.Getenv("FLASHSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLASHSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FLASHSYNC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Rate limit
	if v := os.Getenv("FLASHSYNC_DELETES_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.DeletesPerMinute = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// ValidateServer checks the settings `flashsync serve` needs.
// In dev mode (FLASHSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if os.Getenv("FLASHSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("FLASHSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
