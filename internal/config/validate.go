package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if strings.TrimSpace(c.API.Bind) == "" {
		problems = append(problems, "api.bind must be set (e.g. 127.0.0.1:7060)")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Retry.BaseDelayMS <= 0 {
		problems = append(problems, "retry.base_delay_ms must be positive")
	}
	if c.Retry.BackoffMultiplier < 1 {
		problems = append(problems, "retry.backoff_multiplier must be at least 1")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		problems = append(problems, "retry.max_delay_ms must not be below retry.base_delay_ms")
	}
	if c.Retry.StalenessThresholdMin <= 0 {
		problems = append(problems, "retry.staleness_threshold_minutes must be positive")
	}
	if c.Retry.RecoveryIntervalSeconds <= 0 {
		problems = append(problems, "retry.recovery_interval_seconds must be positive")
	}
	if c.Webhook.LookupRetries < 0 {
		problems = append(problems, "webhook.lookup_retries must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
