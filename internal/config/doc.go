// Package config loads, normalizes, and validates tospatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the TOSPATCH_TOOL environment
// fallback for the unpacking tool. Relative staging, ledger and log
// directories are anchored under the run directory so that a single
// directory scopes every completion marker and in-flight copy of a run.
//
// Always obtain settings through this package so downstream code receives
// absolute paths and clear validation errors.
package config
