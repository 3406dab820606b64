// SPDX-License-Identifier: MPL-2.0

// Package refconsumer is a small package manager that installs git
// dependencies with go-git. It answers the same "add <url>#<ref>
// --cache-folder <dir>" command line as the real consumer, keeps a bare
// mirror per repository in the cache, and can reproduce known caching
// faults so the harness can be exercised without a package manager
// installed.
package refconsumer
