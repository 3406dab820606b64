// SPDX-License-Identifier: MPL-2.0

// Package procexec runs external programs behind one narrow interface:
// program, args, working directory and environment in; exit code and
// captured output out. Git client calls and consumer calls both go through
// it, so process lifecycle handling lives in exactly one place.
//
// Environments are explicit. A Command's Env is the child's entire
// environment; nothing from the host leaks in unless Hermetic copied it.
package procexec
