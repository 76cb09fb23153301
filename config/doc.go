// Package config loads the service configuration.
//
// Precedence: defaults, then YAML file, then RELAY_* environment variables.
package config
