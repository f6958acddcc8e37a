// Package config loads, normalizes, and validates CardMint configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as CARDMINT_DB_DSN and CARDMINT_API_TOKEN. The
// Config type centralizes every knob the worker daemon and CLI need, from the
// store driver and lease timeout to the admission limits and event sinks.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
