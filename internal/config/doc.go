// Package config provides configuration loading and validation for the sales intake service.
// Configuration is read from YAML or TOML files over built-in defaults, and every section
// is validated before the service starts.
package config
