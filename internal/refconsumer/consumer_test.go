// SPDX-License-Identifier: MPL-2.0

package refconsumer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/tagprobe/internal/consumer"
	"github.com/invowk/tagprobe/internal/gitclient"
	"github.com/invowk/tagprobe/internal/gitserver"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/testutil"
	"github.com/invowk/tagprobe/pkg/types"
)

// fixture is a running server with a cloned working copy of john-doe/foo.
type fixture struct {
	srv    *gitserver.Server
	client *gitclient.Client
	repo   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testutil.RequireGit(t)

	srv, err := gitserver.New(gitserver.Config{
		StorageRoot: types.StorageDir(t.TempDir()),
		AutoCreate:  true,
		Logger:      testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(testutil.DeferStop(t, srv))

	c := &gitclient.Client{Runner: procexec.NewExecRunner(nil), Env: procexec.Hermetic(t.TempDir())}
	repo, err := c.Clone(context.Background(), srv.URL(), "john-doe", "foo", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{srv: srv, client: c, repo: repo}
}

func (f *fixture) publish(t *testing.T, version string) string {
	t.Helper()
	if _, err := f.client.CommitVersion(context.Background(), f.repo, "foo", version); err != nil {
		t.Fatal(err)
	}
	return consumer.Specifier(f.srv.URL(), "john-doe", "foo", gitclient.TagName(version))
}

func project(t *testing.T) (dir, cache string) {
	t.Helper()
	root := t.TempDir()
	dir = filepath.Join(root, "project")
	testutil.MustWriteFile(t, filepath.Join(dir, "package.json"), `{"name":"test","license":"MIT"}`)
	return dir, filepath.Join(root, "cache")
}

func installedVersion(t *testing.T, dir string) string {
	t.Helper()
	module := testutil.MustReadFile(t, filepath.Join(dir, "node_modules", "foo", "index.js"))
	return strings.TrimSuffix(strings.TrimPrefix(module, "module.exports = '"), "';\n")
}

func TestExactSeesNewTags(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dir, cache := project(t)
	c := &Consumer{Mode: ModeExact}

	first, err := c.Add(context.Background(), dir, f.publish(t, "1.0.0"), cache)
	if err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	if got := installedVersion(t, dir); got != "1.0.0" {
		t.Errorf("installed %s after first add", got)
	}

	second, err := c.Add(context.Background(), dir, f.publish(t, "2.0.0"), cache)
	if err != nil {
		t.Fatalf("second Add() error: %v", err)
	}
	if got := installedVersion(t, dir); got != "2.0.0" {
		t.Errorf("installed %s after second add, want 2.0.0", got)
	}
	if first.Commit == second.Commit || second.Cached {
		t.Errorf("second add should install a new commit: %+v then %+v", first, second)
	}
	want, err := f.srv.ResolveTag("john-doe", "foo", "v2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if second.Commit != want {
		t.Errorf("commit = %s, server tag = %s", second.Commit, want)
	}
	manifest := testutil.MustReadFile(t, filepath.Join(dir, "package.json"))
	if !strings.Contains(manifest, "foo.git#v2.0.0") {
		t.Errorf("project manifest should record the dependency:\n%s", manifest)
	}
}

func TestSkipFetchMissesNewTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dir, cache := project(t)
	c := &Consumer{Mode: ModeSkipFetch}

	if _, err := c.Add(context.Background(), dir, f.publish(t, "1.0.0"), cache); err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	_, err := c.Add(context.Background(), dir, f.publish(t, "2.0.0"), cache)
	if !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("second Add() error = %v, want ErrRefNotFound", err)
	}
}

func TestRepositoryKeyInstallsStaleContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dir, cache := project(t)
	c := &Consumer{Mode: ModeRepositoryKey}

	if _, err := c.Add(context.Background(), dir, f.publish(t, "1.0.0"), cache); err != nil {
		t.Fatal(err)
	}
	res, err := c.Add(context.Background(), dir, f.publish(t, "2.0.0"), cache)
	if err != nil {
		t.Fatalf("second Add() error: %v", err)
	}
	if !res.Cached {
		t.Error("second add should come from the cache entry")
	}
	if got := installedVersion(t, dir); got != "1.0.0" {
		t.Errorf("installed %s, want the stale 1.0.0", got)
	}
}

func TestAddRejectsBadSpecifier(t *testing.T) {
	t.Parallel()

	dir, cache := project(t)
	_, err := (&Consumer{}).Add(context.Background(), dir, "no-ref-here", cache)
	if !errors.Is(err, consumer.ErrInvalidSpecifier) {
		t.Errorf("error = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, m := range Modes() {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("sometimes"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("ParseMode(sometimes) error = %v", err)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	if got := sanitize("http://localhost:4000/john-doe/foo.git"); got != "localhost_4000_john-doe_foo" {
		t.Errorf("sanitize() = %q", got)
	}
}
