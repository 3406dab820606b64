// SPDX-License-Identifier: MPL-2.0

// Package gitserver runs a throwaway git server over smart HTTP for a single
// scenario run.
//
// Every request is classified into one of a fixed set of operations (push,
// tag, fetch, info, head) and handed to the Policy handler for that kind
// before git http-backend serves it. The default policy accepts everything:
// no authentication, no authorization, no content inspection. Individual
// kinds can be swapped for rejecting handlers to exercise failure paths.
//
// Repositories are stored bare under <root>/<owner>/<name>.git and are
// reachable as both /<owner>/<name> and /<owner>/<name>.git.
package gitserver
