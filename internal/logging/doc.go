// Package logging builds the slog loggers used across showreel and defines
// the standardized attribute keys for structured output. Two formats are
// supported: a compact console format for interactive use and JSON for log
// shipping.
package logging
