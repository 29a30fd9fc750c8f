package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns the baseline configuration before any file is applied.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".local", "share", "showreel")

	return Config{
		Paths: Paths{
			DataDir: base,
			LogDir:  filepath.Join(base, "logs"),
		},
		API: API{
			Bind: "127.0.0.1:7060",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Redis: Redis{
			QueueName: "pipeline",
		},
		Services: Services{
			ScriptWriter: Service{TimeoutSeconds: 120},
			Renderer:     Renderer{Service: Service{TimeoutSeconds: 60}},
			SEO:          Service{TimeoutSeconds: 60},
			Publisher:    Service{TimeoutSeconds: 300},
		},
		Retry: Retry{
			MaxRetries:              3,
			BaseDelayMS:             1000,
			BackoffMultiplier:       2,
			MaxDelayMS:              30000,
			StalenessThresholdMin:   60,
			RecoveryIntervalSeconds: 300,
		},
		Webhook: Webhook{
			LookupRetries: 3,
			LookupDelayMS: 200,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			StageEvents:    true,
			Failures:       true,
			Recovery:       true,
			Publishing:     true,
		},
	}
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandHome(strings.TrimSpace(c.Paths.DataDir))
	c.Paths.LogDir = expandHome(strings.TrimSpace(c.Paths.LogDir))
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	if strings.TrimSpace(c.Redis.QueueName) == "" {
		c.Redis.QueueName = "pipeline"
	}
	for _, svc := range []*Service{
		&c.Services.ScriptWriter,
		&c.Services.Renderer.Service,
		&c.Services.SEO,
		&c.Services.Publisher,
	} {
		svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
		svc.APIKey = strings.TrimSpace(svc.APIKey)
	}
	c.Services.Renderer.CallbackURL = strings.TrimSpace(c.Services.Renderer.CallbackURL)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
