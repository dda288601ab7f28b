// Package config handles configuration loading and management for hitrun.
//
// It provides functionality for:
//   - Loading configuration from hitrun.config.json or .hitrun.yaml files
//   - Validating files against an embedded JSON schema
//   - Default configuration values and merging of CLI overrides
//   - Translating the file format into runner and collector settings
package config
