// Package config loads webpbatch's TOML configuration, applies defaults,
// .env and environment overrides, validates the result and turns it into
// batch.Settings for a run.
//
// Precedence from lowest to highest: built-in defaults, the config file,
// environment variables (optionally seeded from a .env file in the working
// directory), then command-line flags applied by the caller.
package config
