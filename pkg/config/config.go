// Package config handles configuration loading from environment variables and files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultInterval       = 5 * time.Second
	DefaultLogLevel       = "INFO"
	DefaultLogMaxBytes    = 1 * 1024 * 1024
	DefaultLogBackupCount = 1
	DefaultMetricsAddr    = ":9100"
)

// Config holds all configuration for HisMon
type Config struct {
	// App is used as the metric name prefix and the heartbeat service name.
	App string `yaml:"app"`

	// Name optionally overrides the node name (defaults to hostname)
	Name string `yaml:"name"`

	Log LogConfig `yaml:"log"`

	// WebhookURL is the alert endpoint. Empty disables the dispatcher.
	WebhookURL string `yaml:"webhook_url"`

	// Interval between resource samples. YAML accepts "5s" or bare seconds.
	Interval time.Duration `yaml:"-"`

	// MetricsAddr is the listen address for /metrics, /healthz and /alert.
	MetricsAddr string `yaml:"metrics_addr"`

	// RedisURL optionally enables heartbeat publishing.
	RedisURL string `yaml:"redis_url"`
}

// LogConfig configures the logging sinks
type LogConfig struct {
	Level       string            `yaml:"level"`
	File        string            `yaml:"file"`
	MaxBytes    int64             `yaml:"max_bytes"`
	BackupCount int               `yaml:"backup_count"`
	LokiURL     string            `yaml:"loki_url"`
	LokiTags    map[string]string `yaml:"loki_tags"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       DefaultLogLevel,
			MaxBytes:    DefaultLogMaxBytes,
			BackupCount: DefaultLogBackupCount,
			LokiTags:    map[string]string{},
		},
		Interval:    DefaultInterval,
		MetricsAddr: DefaultMetricsAddr,
	}
}

// Load creates a Config from environment variables
func Load() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads the YAML file at path on top of the defaults, then applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if cfg.Log.LokiTags == nil {
		cfg.Log.LokiTags = map[string]string{}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadAuto loads from HISMON_CONFIG when set, falling back to env only.
func LoadAuto() (*Config, error) {
	if path := os.Getenv("HISMON_CONFIG"); path != "" {
		return LoadFile(path)
	}
	return Load(), nil
}

// UnmarshalYAML decodes the file layout, reading interval as either a
// duration string or whole seconds like HISMON_INTERVAL.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	if err := node.Decode((*plain)(c)); err != nil {
		return err
	}

	aux := struct {
		Interval seconds `yaml:"interval"`
	}{Interval: seconds(c.Interval)}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	c.Interval = time.Duration(aux.Interval)
	return nil
}

// seconds is a duration that also accepts a bare number of seconds
type seconds time.Duration

func (s *seconds) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*s = seconds(time.Duration(n) * time.Second)
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
		*s = seconds(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("interval %q: want a duration like 5s or whole seconds", raw)
	}
	*s = seconds(d)
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HISMON_APP"); v != "" {
		cfg.App = v
	}
	if v := os.Getenv("HISMON_NAME"); v != "" {
		cfg.Name = v
	}

	if v := os.Getenv("HISMON_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HISMON_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("HISMON_LOG_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Log.MaxBytes = n
		}
	}
	if v := os.Getenv("HISMON_LOG_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.BackupCount = n
		}
	}
	if v := os.Getenv("HISMON_LOKI_URL"); v != "" {
		cfg.Log.LokiURL = v
	}
	// Format: "app=myapp,env=prod"
	if v := os.Getenv("HISMON_LOKI_TAGS"); v != "" {
		for k, val := range parseTags(v) {
			cfg.Log.LokiTags[k] = val
		}
	}

	if v := os.Getenv("HISMON_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}

	// Interval in whole seconds
	if v := os.Getenv("HISMON_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Interval = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("HISMON_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("HISMON_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
}

// parseTags parses "k=v,k=v". Entries without '=' are skipped.
func parseTags(s string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		tags[k] = strings.TrimSpace(v)
	}
	return tags
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.App == "" {
		return &ConfigError{Field: "App", Message: "app name is required (set HISMON_APP)"}
	}
	if c.Interval < time.Second {
		return &ConfigError{Field: "Interval", Message: "interval must be at least 1s"}
	}
	if c.Log.MaxBytes < 0 {
		return &ConfigError{Field: "Log.MaxBytes", Message: "must not be negative"}
	}
	if c.Log.BackupCount < 0 {
		return &ConfigError{Field: "Log.BackupCount", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
