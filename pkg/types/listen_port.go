// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
var ErrInvalidListenPort = errors.New("invalid listen port")

type (
	// ListenPort is a TCP port a server binds to.
	// Zero asks the kernel for a free port; anything else must be 1-65535.
	ListenPort int

	// InvalidListenPortError is returned when a ListenPort is out of range.
	InvalidListenPortError struct {
		Value ListenPort
	}
)

// String returns the decimal form of the port.
func (p ListenPort) String() string { return strconv.Itoa(int(p)) }

// Validate returns an error wrapping ErrInvalidListenPort when the port is
// neither 0 nor in 1-65535.
func (p ListenPort) Validate() error {
	if p < 0 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// Error implements the error interface for InvalidListenPortError.
func (e *InvalidListenPortError) Error() string {
	return fmt.Sprintf("invalid listen port %d: must be 0 (auto-select) or 1-65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort for errors.Is() compatibility.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }
