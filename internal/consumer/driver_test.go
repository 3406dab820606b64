// SPDX-License-Identifier: MPL-2.0

package consumer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/testutil"

	"github.com/google/go-cmp/cmp"
)

// fakeRunner installs a fixed package into the project on every call.
type fakeRunner struct {
	cmds []procexec.Command
	exit int
}

func (f *fakeRunner) Run(_ context.Context, cmd procexec.Command) (*procexec.Result, error) {
	f.cmds = append(f.cmds, cmd)
	if f.exit != 0 {
		return &procexec.Result{ExitCode: 1, Stderr: "error Couldn't find tag\n"}, nil
	}
	dir := filepath.Join(cmd.Dir, "node_modules", "foo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"foo","version":"1.0.0","license":"MIT"}`), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = '1.0.0';\n"), 0o644); err != nil {
		return nil, err
	}
	return &procexec.Result{Stdout: "success\n"}, nil
}

func newSession(t *testing.T, r procexec.Runner, opts Options) *Session {
	t.Helper()
	opts.Root = t.TempDir()
	d := NewDriver(r, procexec.Env{"HOME": "/nonexistent"}, opts)
	s, err := d.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return s
}

func TestCreateSessionLayout(t *testing.T) {
	t.Parallel()

	s := newSession(t, &fakeRunner{}, Options{})
	got := testutil.MustReadFile(t, filepath.Join(s.ProjectDir(), "package.json"))
	if got != `{"name":"test","license":"MIT"}` {
		t.Errorf("project manifest = %s", got)
	}
	entries, err := os.ReadDir(s.CacheDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache should start empty, has %d entries", len(entries))
	}
}

func TestAddCommandLine(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	s := newSession(t, r, Options{
		Program:    "node",
		PrefixArgs: []string{"bin/yarn.js"},
		ExtraArgs:  []string{"--verbose"},
		Identity:   "probe",
	})
	if _, err := s.Add(context.Background(), "http://localhost:1/john-doe/foo.git#v1.0.0", "--no-lockfile"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	cmd := r.cmds[0]
	want := []string{
		"bin/yarn.js", "add", "http://localhost:1/john-doe/foo.git#v1.0.0",
		"--cache-folder", s.CacheDir(), "--verbose", "--no-lockfile",
	}
	if diff := cmp.Diff(want, cmd.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if cmd.Program != "node" || cmd.Dir != s.ProjectDir() {
		t.Errorf("program %s in %s", cmd.Program, cmd.Dir)
	}
	if cmd.Env["HOME"] != "/nonexistent" {
		t.Error("driver environment not passed through")
	}
}

func TestAddFailure(t *testing.T) {
	t.Parallel()

	s := newSession(t, &fakeRunner{exit: 1}, Options{})
	_, err := s.Add(context.Background(), "x.git#v2.0.0")
	if !errors.Is(err, failure.ErrInstall) {
		t.Fatalf("error = %v, want InstallFailure", err)
	}
	var se *failure.StepError
	if !errors.As(err, &se) || se.ExitCode != 1 || se.Output == "" {
		t.Errorf("step error = %+v", se)
	}
}

func TestInstalled(t *testing.T) {
	t.Parallel()

	s := newSession(t, &fakeRunner{}, Options{})
	if _, err := s.Installed("foo"); err == nil {
		t.Error("Installed() before Add should fail")
	}
	if _, err := s.Add(context.Background(), "x.git#v1.0.0"); err != nil {
		t.Fatal(err)
	}
	inst, err := s.Installed("foo")
	if err != nil {
		t.Fatalf("Installed() error: %v", err)
	}
	if inst.Name != "foo" || inst.Version != "1.0.0" || inst.Module != "module.exports = '1.0.0';\n" {
		t.Errorf("Installed() = %+v", inst)
	}
}

func TestCleanIsIdempotentAndResets(t *testing.T) {
	t.Parallel()

	s := newSession(t, &fakeRunner{}, Options{})
	if _, err := s.Add(context.Background(), "x.git#v1.0.0"); err != nil {
		t.Fatal(err)
	}
	testutil.MustWriteFile(t, filepath.Join(s.CacheDir(), "entry"), "cached")

	if err := s.Clean(); err != nil {
		t.Fatalf("Clean() error: %v", err)
	}
	if err := s.Clean(); err != nil {
		t.Fatalf("second Clean() error: %v", err)
	}
	if _, err := os.Stat(s.Root()); !os.IsNotExist(err) {
		t.Errorf("session root should be gone, stat err = %v", err)
	}
	if _, err := s.Installed("foo"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Installed() after Clean error = %v", err)
	}

	if _, err := s.Add(context.Background(), "x.git#v1.0.0"); err != nil {
		t.Fatalf("Add() after Clean error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.CacheDir(), "entry")); !os.IsNotExist(err) {
		t.Error("cache should be empty after Clean")
	}
	t.Cleanup(func() { _ = s.Clean() })
}

func TestSpecifier(t *testing.T) {
	t.Parallel()

	spec := Specifier("http://localhost:4000/", "john-doe", "foo", "v1.0.0")
	if spec != "http://localhost:4000/john-doe/foo.git#v1.0.0" {
		t.Fatalf("Specifier() = %q", spec)
	}
	url, ref, err := ParseSpecifier(spec)
	if err != nil || url != "http://localhost:4000/john-doe/foo.git" || ref != "v1.0.0" {
		t.Errorf("ParseSpecifier() = %q, %q, %v", url, ref, err)
	}
	for _, bad := range []string{"", "no-ref", "#v1", "url#"} {
		if _, _, err := ParseSpecifier(bad); !errors.Is(err, ErrInvalidSpecifier) {
			t.Errorf("ParseSpecifier(%q) error = %v", bad, err)
		}
	}
}
