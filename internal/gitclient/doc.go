// SPDX-License-Identifier: MPL-2.0

// Package gitclient scripts the client side of a scenario: cloning the
// scenario repository and, per round, writing a package version, committing
// it, tagging it and pushing branch then tag to the server with the real git
// binary.
package gitclient
