// Package configs embeds the configuration templates written by
// `amankb config init`.
//
// Configuration is merged in this order, later sources winning:
//  1. Defaults (internal/config NewConfig)
//  2. User config (~/.config/amankb/config.yaml)
//  3. Project config (.amankb.yaml)
//  4. Environment variables (AMANKB_*)
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration. Every value it
// sets equals the built-in default, so writing it changes nothing until
// the user edits it.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
