package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API configures the daemon HTTP surface.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Log contains logger construction settings.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Redis configures the asynq-backed task scheduler. An empty URL selects the
// in-process scheduler.
type Redis struct {
	URL       string `toml:"url"`
	QueueName string `toml:"queue_name"`
}

// Service holds the connection settings shared by all external stage services.
type Service struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Renderer extends Service with the callback URL handed to the video renderer.
type Renderer struct {
	Service
	CallbackURL string `toml:"callback_url"`
}

// Services groups the four external stage service endpoints.
type Services struct {
	ScriptWriter Service  `toml:"script_writer"`
	Renderer     Renderer `toml:"renderer"`
	SEO          Service  `toml:"seo"`
	Publisher    Service  `toml:"publisher"`
}

// Retry configures the retry/recovery engine.
type Retry struct {
	MaxRetries              int `toml:"max_retries"`
	BaseDelayMS             int `toml:"base_delay_ms"`
	BackoffMultiplier       int `toml:"backoff_multiplier"`
	MaxDelayMS              int `toml:"max_delay_ms"`
	StalenessThresholdMin   int `toml:"staleness_threshold_minutes"`
	RecoveryIntervalSeconds int `toml:"recovery_interval_seconds"`
}

// Webhook configures the render callback receiver.
type Webhook struct {
	Secret        string `toml:"secret"`
	LookupRetries int    `toml:"lookup_retries"`
	LookupDelayMS int    `toml:"lookup_delay_ms"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	StageEvents    bool   `toml:"stage_events"`
	Failures       bool   `toml:"failures"`
	Recovery       bool   `toml:"recovery"`
	Publishing     bool   `toml:"publishing"`
}

// Config is the root showreel configuration.
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Log           Log           `toml:"log"`
	Redis         Redis         `toml:"redis"`
	Services      Services      `toml:"services"`
	Retry         Retry         `toml:"retry"`
	Webhook       Webhook       `toml:"webhook"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "showreel", "config.toml")
}

// Load reads the config file at path (or the default location when path is
// empty), layers it over defaults, and validates the result. The second
// return value reports whether a file was actually read.
func Load(path string) (*Config, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}

	cfg := Default()
	loaded := false

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		loaded = true
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply when no config file exists.
	default:
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, loaded, err
	}
	return &cfg, loaded, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite item store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "showreeld.lock")
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "showreel.log")
}

// BaseDelay returns the retry base delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

// StalenessThreshold returns the stuck-job age cutoff as a duration.
func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.Retry.StalenessThresholdMin) * time.Minute
}

// RecoveryInterval returns the recovery loop cadence as a duration.
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Retry.RecoveryIntervalSeconds) * time.Second
}

// WebhookLookupDelay returns the wait between webhook correlation retries.
func (c *Config) WebhookLookupDelay() time.Duration {
	return time.Duration(c.Webhook.LookupDelayMS) * time.Millisecond
}
