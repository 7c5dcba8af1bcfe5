// Package config loads and validates the service configuration from a YAML
// file, with defaults that let the shim run unconfigured in front of a
// stock OP25 install.
package config
