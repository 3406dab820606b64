// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidStorageDir is the sentinel error wrapped by InvalidStorageDirError.
var ErrInvalidStorageDir = errors.New("invalid storage directory")

type (
	// StorageDir is an existing directory a git server keeps its bare
	// repositories in. Relative values resolve against the working directory.
	StorageDir string

	// InvalidStorageDirError is returned when a StorageDir is blank or does
	// not name an existing directory.
	InvalidStorageDirError struct {
		Value  StorageDir
		Reason string
	}
)

// String returns the directory as given.
func (d StorageDir) String() string { return string(d) }

// Resolve returns the absolute form of d after checking it is an existing
// directory.
func (d StorageDir) Resolve() (string, error) {
	if strings.TrimSpace(string(d)) == "" {
		return "", &InvalidStorageDirError{Value: d, Reason: "must be non-empty"}
	}
	abs, err := filepath.Abs(string(d))
	if err != nil {
		return "", &InvalidStorageDirError{Value: d, Reason: err.Error()}
	}
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return "", &InvalidStorageDirError{Value: d, Reason: err.Error()}
	case !info.IsDir():
		return "", &InvalidStorageDirError{Value: d, Reason: "not a directory"}
	}
	return abs, nil
}

// Error implements the error interface for InvalidStorageDirError.
func (e *InvalidStorageDirError) Error() string {
	return fmt.Sprintf("invalid storage directory %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidStorageDir for errors.Is() compatibility.
func (e *InvalidStorageDirError) Unwrap() error { return ErrInvalidStorageDir }
