// Package config loads, normalizes, and validates dicomdisc configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DICOMDISC_STAGING_DIR and DICOMDISC_VIEWER_BUNDLE. The Config type centralizes
// every knob the exporter and CLI need so staging, state, and output directories
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
