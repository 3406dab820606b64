// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ValidateSource compiles CUE data, unifies it with definition from schema
// and decodes the result. Optional fields may stay absent.
func ValidateSource(schema, definition string, data []byte, filename string) (map[string]any, error) {
	if err := CheckFileSize(data, DefaultMaxFileSize, filename); err != nil {
		return nil, err
	}
	ctx := cuecontext.New()
	def, err := lookup(ctx, schema, definition)
	if err != nil {
		return nil, err
	}
	user := ctx.CompileBytes(data, cue.Filename(filename))
	if user.Err() != nil {
		return nil, FormatError(user.Err(), filename)
	}
	return decode(def.Unify(user), filename)
}

// ValidateValue encodes a decoded document (maps, slices, scalars) as CUE
// and validates it like ValidateSource.
func ValidateValue(schema, definition string, doc any, filename string) (map[string]any, error) {
	ctx := cuecontext.New()
	def, err := lookup(ctx, schema, definition)
	if err != nil {
		return nil, err
	}
	user := ctx.Encode(doc)
	if user.Err() != nil {
		return nil, FormatError(user.Err(), filename)
	}
	return decode(def.Unify(user), filename)
}

func lookup(ctx *cue.Context, schema, definition string) (cue.Value, error) {
	compiled := ctx.CompileString(schema)
	if compiled.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", compiled.Err())
	}
	def := compiled.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("internal error: schema has no %s", definition)
	}
	return def, nil
}

func decode(unified cue.Value, filename string) (map[string]any, error) {
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, FormatError(err, filename)
	}
	out := map[string]any{}
	if err := unified.Decode(&out); err != nil {
		return nil, FormatError(err, filename)
	}
	return out, nil
}
