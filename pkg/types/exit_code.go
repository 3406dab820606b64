// SPDX-License-Identifier: MPL-2.0

package types

import "strconv"

// ExitCodeUnknown is reported when a process never produced an exit status,
// e.g. because it could not be spawned.
const ExitCodeUnknown ExitCode = -1

// ExitCode is a process exit status. Zero means success; ExitCodeUnknown
// marks a process that never ran.
type ExitCode int

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
