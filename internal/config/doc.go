// Package config loads and validates the showreel TOML configuration. A
// missing config file yields defaults; validation errors name the offending
// key and a suggested fix so daemon startup failures are actionable.
package config
