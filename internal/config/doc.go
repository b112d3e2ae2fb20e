// Package config loads gateway configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file
// (RGW_CONFIG, or config.yaml in the working directory), then RGW_*
// environment overrides. The result is validated before use.
package config
