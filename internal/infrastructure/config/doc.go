/*
Package config loads sandbox service configuration.

Values come from three layers, later ones winning: Default(), an
optional YAML or TOML file passed to LoadFile, and environment
variables read with envconfig. Durations accept Go syntax ("30s").
*/
package config
