// SPDX-License-Identifier: MPL-2.0

// Package consumer drives the package manager under test. A Session owns a
// project directory and a cache directory; Add installs a git dependency
// into the project with the cache pinned to the session's cache directory.
package consumer
