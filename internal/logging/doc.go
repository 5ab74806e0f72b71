// Package logging constructs log/slog loggers for the daemon and CLI with
// JSON and console output handlers.
package logging
