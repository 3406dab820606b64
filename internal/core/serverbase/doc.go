// SPDX-License-Identifier: MPL-2.0

// Package serverbase holds the lifecycle state machine shared by tagprobe's
// long-running servers: lock-free state reads, guarded transitions, a
// readiness signal, goroutine tracking and an async error channel.
package serverbase
