// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import "syscall"

var fatalErrno error = syscall.ENOSPC
