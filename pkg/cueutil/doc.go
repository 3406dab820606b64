// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates configuration documents against an embedded CUE
// schema. Documents may be CUE source or an already decoded Go value (for
// example a parsed TOML file); both are unified with a schema definition,
// validated and decoded back to a generic map.
//
//	//go:embed config_schema.cue
//	var schema string
//
//	m, err := cueutil.ValidateSource(schema, "#Config", data, "config.cue")
package cueutil
