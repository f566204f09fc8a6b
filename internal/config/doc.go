// Package config loads the load generator's service configuration from
// defaults, a YAML file, environment variables (including a .env file) and
// command-line overrides.
package config
