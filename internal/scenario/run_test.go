// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/invowk/tagprobe/internal/consumer"
	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/gitserver"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/refconsumer"
	"github.com/invowk/tagprobe/internal/testutil"
)

// refConfig runs the scenario against the in-process reference consumer.
func refConfig(t *testing.T, mode refconsumer.Mode) (Config, procexec.Runner) {
	t.Helper()
	git := testutil.RequireGit(t)
	cfg := DefaultConfig()
	cfg.GitBinary = git
	cfg.Logger = testutil.Logger(t)
	cfg.Consumer.Program = refconsumer.DefaultProgram
	runner := &refconsumer.Runner{Next: procexec.NewExecRunner(nil), Mode: mode}
	return cfg, runner
}

func assertTornDown(t *testing.T, rep *Report) {
	t.Helper()
	if rep.Workspace != "" {
		if _, err := os.Stat(rep.Workspace); !os.IsNotExist(err) {
			t.Errorf("workspace %s should be removed, stat err = %v", rep.Workspace, err)
		}
	}
	if rep.Port != 0 {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rep.Port)), time.Second)
		if err == nil {
			_ = conn.Close()
			t.Errorf("port %d should refuse connections after the run", rep.Port)
		}
	}
	for _, s := range rep.Cleanup {
		if s.Error != "" {
			t.Errorf("cleanup %s failed: %s", s.Name, s.Error)
		}
	}
}

func stepNames(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Name)
	}
	return out
}

func TestRunTagMoves(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeExact)
	cfg.Policy = gitserver.AcceptAll().With(gitserver.OpTag, gitserver.RequireKnownTarget)

	rep, err := Run(context.Background(), cfg, runner)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !rep.Passed || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}

	want := []string{
		"allocate workspace", "allocate port", "start server", "create repository", "clone",
		"create consumer session",
		"publish 1.0.0", "add v1.0.0", "verify v1.0.0",
		"publish 2.0.0", "add v2.0.0", "verify v2.0.0",
	}
	if got := stepNames(rep.Steps); !slices.Equal(got, want) {
		t.Errorf("steps = %v\nwant %v", got, want)
	}
	if got := stepNames(rep.Cleanup); !slices.Equal(got, []string{"clean consumer session", "stop server", "destroy workspace"}) {
		t.Errorf("cleanup = %v", got)
	}

	if len(rep.Rounds) != 2 {
		t.Fatalf("rounds = %+v", rep.Rounds)
	}
	for i, v := range []string{"1.0.0", "2.0.0"} {
		rd := rep.Rounds[i]
		if !rd.Verified || rd.InstalledVersion != v || rd.Commit != rd.ServerCommit {
			t.Errorf("round %d = %+v", i, rd)
		}
		if rd.Specifier != rep.BaseURL+"/john-doe/foo.git#v"+v {
			t.Errorf("specifier = %s", rd.Specifier)
		}
	}
	if rep.Rounds[0].Commit == rep.Rounds[1].Commit {
		t.Error("rounds must produce distinct commits")
	}
	if !slices.ContainsFunc(rep.Events, func(e Event) bool { return e.Op == "tag" && e.Ref == "refs/tags/v2.0.0" && e.Accepted }) {
		t.Errorf("events should include the accepted v2.0.0 tag: %+v", rep.Events)
	}
	assertTornDown(t, rep)
}

func TestRunSkipFetchFailsSecondAdd(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeSkipFetch)
	rep, err := Run(context.Background(), cfg, runner)
	if !errors.Is(err, failure.ErrInstall) {
		t.Fatalf("Run() error = %v, want InstallFailure", err)
	}
	if s := rep.FailedStep(); s == nil || s.Name != "add v2.0.0" || s.Failure != "InstallFailure" {
		t.Errorf("failed step = %+v", s)
	}
	if rep.Passed || rep.Failure != "InstallFailure" {
		t.Errorf("report verdict = %v %s", rep.Passed, rep.Failure)
	}
	assertTornDown(t, rep)
}

func TestRunContentCheckCatchesStaleInstall(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeRepositoryKey)
	rep, err := Run(context.Background(), cfg, runner)
	if !errors.Is(err, ErrStaleInstall) {
		t.Fatalf("Run() error = %v, want ErrStaleInstall", err)
	}
	if s := rep.FailedStep(); s == nil || s.Name != "verify v2.0.0" {
		t.Errorf("failed step = %+v", s)
	}
	if got := rep.Rounds[1].InstalledVersion; got != "1.0.0" {
		t.Errorf("second round installed %s, want the stale 1.0.0", got)
	}
	assertTornDown(t, rep)

	cfg.VerifyContent = false
	rep, err = Run(context.Background(), cfg, runner)
	if err != nil {
		t.Fatalf("exit-code-only run should pass, got %v", err)
	}
	if rep.Rounds[1].Verified {
		t.Error("unverified run must not mark rounds verified")
	}
}

func TestRunMissingRepositoryFailsClone(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeExact)
	cfg.CreateRepository = false

	rep, err := Run(context.Background(), cfg, runner)
	if !errors.Is(err, failure.ErrClone) {
		t.Fatalf("Run() error = %v, want CloneFailure", err)
	}
	if slices.Contains(stepNames(rep.Steps), "create consumer session") {
		t.Error("steps after the failed clone must not run")
	}
	if got := stepNames(rep.Cleanup); !slices.Equal(got, []string{"stop server", "destroy workspace"}) {
		t.Errorf("cleanup = %v", got)
	}
	assertTornDown(t, rep)
}

func TestRunAutoCreate(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeExact)
	cfg.CreateRepository = false
	cfg.AutoCreate = true
	cfg.Versions = []string{"0.1.0", "0.2.0", "0.3.0"}

	rep, err := Run(context.Background(), cfg, runner)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(rep.Rounds) != 3 || !rep.Rounds[2].Verified {
		t.Errorf("rounds = %+v", rep.Rounds)
	}
}

func TestRunRejectedTagIsMutationFailure(t *testing.T) {
	t.Parallel()

	cfg, runner := refConfig(t, refconsumer.ModeExact)
	cfg.Policy = gitserver.AcceptAll().With(gitserver.OpTag, gitserver.Reject("tags are frozen"))

	rep, err := Run(context.Background(), cfg, runner)
	if !errors.Is(err, failure.ErrMutation) {
		t.Fatalf("Run() error = %v, want MutationFailure", err)
	}
	if s := rep.FailedStep(); s == nil || s.Name != "publish 1.0.0" {
		t.Errorf("failed step = %+v", s)
	}
	assertTornDown(t, rep)
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Versions = []string{"1.0.0", "1.0.0"}
	rep, err := Run(context.Background(), cfg, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
	if len(rep.Steps) != 0 || len(rep.Cleanup) != 0 {
		t.Errorf("nothing should run for an invalid config: %+v", rep)
	}
}

// TestRunWithYarn exercises a real package manager. Set TAGPROBE_TEST_YARN
// to the yarn executable to enable it.
func TestRunWithYarn(t *testing.T) {
	yarn := os.Getenv("TAGPROBE_TEST_YARN")
	if yarn == "" {
		t.Skip("TAGPROBE_TEST_YARN not set")
	}
	if _, err := exec.LookPath(yarn); err != nil {
		t.Skipf("yarn not runnable: %v", err)
	}
	testutil.RequireGit(t)

	cfg := DefaultConfig()
	cfg.Logger = testutil.Logger(t)
	cfg.Consumer = consumer.Options{Program: yarn}.WithDefaults()
	rep, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	assertTornDown(t, rep)
}
