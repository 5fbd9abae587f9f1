// Package config loads, normalizes, and validates paperflow configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), derives artifact directories from paths.data_dir, reads TOML
// files, and honours credential fallbacks such as PAPERFLOW_LLM_API_KEYS.
// Numeric bounds are declared as struct tags and checked with
// go-playground/validator before the cross-field checks run.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical language codes, and clear validation errors.
package config
