// SPDX-License-Identifier: MPL-2.0

// Package config loads tagprobe settings with Viper. Values come from
// built-in defaults, an optional config file and TAGPROBE_* environment
// variables, in increasing precedence.
//
// Config files are CUE (config.cue) or TOML (config.toml). Both are
// validated against the embedded #Config schema in config_schema.cue before
// they are merged, so unknown keys and wrong types fail with the offending
// path. Files are looked up in the config directory (see Dir) and then in
// the working directory as tagprobe.cue / tagprobe.toml.
package config
