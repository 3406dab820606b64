// SPDX-License-Identifier: MPL-2.0

// Package workspace allocates the throwaway directory trees a scenario run
// works in and guarantees they are removed afterwards.
package workspace
