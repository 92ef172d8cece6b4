// Package config loads and validates deckforge configuration from TOML.
package config
