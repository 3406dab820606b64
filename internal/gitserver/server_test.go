// SPDX-License-Identifier: MPL-2.0

package gitserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/invowk/tagprobe/internal/core/serverbase"
	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/testutil"
	"github.com/invowk/tagprobe/pkg/types"
)

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	testutil.RequireGit(t)
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = types.StorageDir(t.TempDir())
	}
	cfg.Logger = testutil.Logger(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := newServer(t, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(testutil.DeferStop(t, s))
	return s
}

// clientEnv is a hermetic git environment for the test's client side.
func clientEnv(t *testing.T) procexec.Env {
	t.Helper()
	return procexec.Hermetic(t.TempDir()).WithGitConfig("init.defaultBranch", "master")
}

// commitAndTag clones owner/name, commits one file and tags it locally.
func commitAndTag(t *testing.T, s *Server, env procexec.Env, tag string) string {
	t.Helper()
	parent := t.TempDir()
	testutil.Git(t, env, parent, "clone", s.URL()+"/john-doe/foo", "foo")
	dir := filepath.Join(parent, "foo")
	testutil.MustWriteFile(t, filepath.Join(dir, "index.js"), "module.exports = '1.0.0';\n")
	testutil.Git(t, env, dir, "add", ".")
	testutil.Git(t, env, dir, "commit", "-m", "Init")
	testutil.Git(t, env, dir, "tag", tag)
	return dir
}

func TestServerPushAndTagEvents(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{})
	if _, err := s.CreateRepository("john-doe", "foo"); err != nil {
		t.Fatalf("CreateRepository() error: %v", err)
	}

	env := clientEnv(t)
	dir := commitAndTag(t, s, env, "v1.0.0")
	testutil.Git(t, env, dir, "push", "origin", "master")
	testutil.Git(t, env, dir, "push", "origin", "v1.0.0")
	head := testutil.Git(t, env, dir, "rev-parse", "HEAD")

	got, err := s.ResolveTag("john-doe", "foo", "v1.0.0")
	if err != nil {
		t.Fatalf("ResolveTag() error: %v", err)
	}
	if got != head {
		t.Errorf("ResolveTag() = %s, want %s", got, head)
	}

	events := s.Events()
	pushIdx := slices.IndexFunc(events, func(r Record) bool {
		return r.Op == OpPush && r.Ref == "refs/heads/master" && r.NewHash == head
	})
	tagIdx := slices.IndexFunc(events, func(r Record) bool {
		return r.Op == OpTag && r.Ref == "refs/tags/v1.0.0" && r.NewHash == head
	})
	if pushIdx < 0 || tagIdx < 0 {
		t.Fatalf("missing push or tag event in %+v", events)
	}
	if pushIdx > tagIdx {
		t.Errorf("push event (%d) should precede tag event (%d)", pushIdx, tagIdx)
	}
	if !slices.ContainsFunc(events, func(r Record) bool { return r.Op == OpInfo }) {
		t.Error("clone should have recorded an info event")
	}
	for _, r := range events {
		if !r.Accepted {
			t.Errorf("AcceptAll rejected %s %s: %s", r.Op, r.Ref, r.Reason)
		}
	}
}

func TestServerRequireKnownTargetRejectsEarlyTag(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{Policy: AcceptAll().With(OpTag, RequireKnownTarget)})
	if _, err := s.CreateRepository("john-doe", "foo"); err != nil {
		t.Fatal(err)
	}

	env := clientEnv(t)
	dir := commitAndTag(t, s, env, "v1.0.0")

	res := testutil.GitExit(t, env, dir, "push", "origin", "v1.0.0")
	if res.ExitCode.IsSuccess() {
		t.Fatal("tag pushed before its branch should be rejected")
	}
	if !slices.ContainsFunc(s.Events(), func(r Record) bool { return r.Op == OpTag && !r.Accepted }) {
		t.Error("expected a rejected tag event")
	}

	testutil.Git(t, env, dir, "push", "origin", "master")
	testutil.Git(t, env, dir, "push", "origin", "v1.0.0")
	if _, err := s.ResolveTag("john-doe", "foo", "v1.0.0"); err != nil {
		t.Errorf("tag should land after the branch: %v", err)
	}
}

func TestServerMissingRepository(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{})
	resp, err := http.Get(s.URL() + "/john-doe/missing/info/refs?service=git-upload-pack")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	res := testutil.GitExit(t, clientEnv(t), t.TempDir(), "clone", s.URL()+"/john-doe/missing")
	if res.ExitCode.IsSuccess() {
		t.Error("cloning a missing repository should fail")
	}
}

func TestServerAutoCreate(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{AutoCreate: true})
	resp, err := http.Get(s.URL() + "/john-doe/fresh.git/info/refs?service=git-upload-pack")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	dir, err := s.RepositoryDir("john-doe", "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil {
		t.Errorf("repository should exist after info request: %v", err)
	}
}

func TestServerRejectAnswersForbidden(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{Policy: AcceptAll().With(OpInfo, Reject("closed"))})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost/john-doe/foo/info/refs", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	events := s.Events()
	if len(events) != 1 || events[0].Accepted || events[0].Reason != "closed" {
		t.Errorf("events = %+v", events)
	}
}

func TestServerRejectsBadPaths(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{})
	for target, want := range map[string]int{
		"/../etc/info/refs":       http.StatusBadRequest,
		"/john-doe/foo":           http.StatusNotFound,
		"/john-doe/foo/git-other": http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost"+target, nil))
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, want)
		}
	}
	if len(s.Events()) != 0 {
		t.Error("unclassified requests must not reach the policy")
	}
}

func TestServerStopRefusesConnections(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
	if s.State() != serverbase.StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		_ = conn.Close()
		t.Error("connection should be refused after Stop")
	}
}

func TestServerStartBindFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := types.ListenPort(ln.Addr().(*net.TCPAddr).Port)

	s := newServer(t, Config{Port: port})
	err = s.Start(context.Background())
	if !errors.Is(err, failure.ErrServerStart) {
		t.Fatalf("Start() error = %v, want ServerStartFailure", err)
	}
	if s.State() != serverbase.StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after failed start: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{StorageRoot: types.StorageDir(filepath.Join(t.TempDir(), "nope"))}); !errors.Is(err, failure.ErrServerStart) {
		t.Errorf("missing storage root: error = %v", err)
	}
	if _, err := New(Config{}); !errors.Is(err, types.ErrInvalidStorageDir) {
		t.Errorf("empty storage root: error = %v", err)
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{StorageRoot: types.StorageDir(file)}); !errors.Is(err, types.ErrInvalidStorageDir) {
		t.Errorf("file storage root: error = %v", err)
	}
	if _, err := New(Config{StorageRoot: types.StorageDir(t.TempDir()), GitBinary: "definitely-not-git-xyz"}); !errors.Is(err, failure.ErrServerStart) {
		t.Errorf("missing git binary: error = %v", err)
	}
}

func TestRepositoryDirStaysInRoot(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{})
	dir, err := s.RepositoryDir("john-doe", "foo")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(s.StorageRoot(), "john-doe", "foo.git"); dir != want {
		t.Errorf("RepositoryDir() = %s, want %s", dir, want)
	}
	if _, err := s.RepositoryDir("..", "foo"); !errors.Is(err, ErrInvalidRepository) {
		t.Errorf("RepositoryDir(..) error = %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	if got := BaseURL("localhost", 8080); got != "http://localhost:8080" {
		t.Errorf("BaseURL() = %q", got)
	}
}
