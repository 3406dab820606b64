// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/invowk/tagprobe/internal/procexec"
)

// RequireGit returns the path of the git binary, skipping the test when git
// is not installed or lacks http-backend.
func RequireGit(t testing.TB) string {
	t.Helper()
	git, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git not found in PATH")
	}
	out, err := exec.CommandContext(context.Background(), git, "--exec-path").Output()
	if err != nil {
		t.Skipf("git --exec-path failed: %v", err)
	}
	if _, err := exec.LookPath(strings.TrimSpace(string(out)) + "/git-http-backend"); err != nil {
		t.Skip("git-http-backend not available")
	}
	return git
}

// Git runs git with args in dir under env and returns trimmed stdout.
// The test fails on a non-zero exit.
func Git(t testing.TB, env procexec.Env, dir string, args ...string) string {
	t.Helper()
	res, err := procexec.NewExecRunner(nil).Run(context.Background(), procexec.Command{
		Program: "git",
		Args:    args,
		Dir:     dir,
		Env:     env,
	})
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	if !res.ExitCode.IsSuccess() {
		t.Fatalf("git %v exited %d:\n%s", args, res.ExitCode, res.Output())
	}
	return strings.TrimSpace(res.Stdout)
}

// GitExit runs git like Git but returns the result instead of failing.
func GitExit(t testing.TB, env procexec.Env, dir string, args ...string) *procexec.Result {
	t.Helper()
	res, err := procexec.NewExecRunner(nil).Run(context.Background(), procexec.Command{
		Program: "git",
		Args:    args,
		Dir:     dir,
		Env:     env,
	})
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return res
}
