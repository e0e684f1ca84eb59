// Package config loads the gwsession YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing.
// Optional fields receive defaults; Validate reports the first invalid
// field by its dotted YAML path.
package config
