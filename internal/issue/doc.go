// SPDX-License-Identifier: MPL-2.0

// Package issue holds user-facing error guidance: ActionableError carries
// the failed operation, the resource and fix suggestions; Issue is a
// markdown explanation of a known failure, rendered with glamour.
package issue
