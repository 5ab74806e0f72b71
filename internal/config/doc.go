// Package config loads, normalizes, and validates drumscribe configuration
// from TOML files with repository defaults.
package config
