// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers that fail or log consistently:
// resource cleanup (MustStop, DeferStop), filesystem setup (MustMkdirAll,
// MustWriteFile) and git helpers that skip when no git binary is present
// (RequireGit, Git).
package testutil
