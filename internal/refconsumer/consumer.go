// SPDX-License-Identifier: MPL-2.0

package refconsumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/tagprobe/internal/consumer"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	jsoniter "github.com/json-iterator/go"
)

const (
	mirrorsDir  = "mirrors"
	packagesDir = "packages"
)

// ErrRefNotFound is returned when the requested ref is not in the mirror.
var ErrRefNotFound = errors.New("couldn't find match for ref")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var fetchSpecs = []config.RefSpec{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
}

type (
	// Consumer installs git dependencies into a project.
	Consumer struct {
		Mode   Mode
		Logger *log.Logger
	}

	// Result describes one completed add.
	Result struct {
		Name   string
		Commit string
		// Key is the cache entry the package was installed from.
		Key string
		// Cached is true when the entry already existed.
		Cached bool
	}
)

// Add resolves spec against a mirror in cacheDir and installs the package
// into projectDir/node_modules.
func (c *Consumer) Add(ctx context.Context, projectDir, spec, cacheDir string) (*Result, error) {
	url, ref, err := consumer.ParseSpecifier(spec)
	if err != nil {
		return nil, err
	}
	repoKey := sanitize(url)

	repo, err := c.mirror(ctx, filepath.Join(cacheDir, mirrorsDir, repoKey), url)
	if err != nil {
		return nil, err
	}
	hash, err := resolve(repo, ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}

	key := repoKey + "@" + hash.String()
	if c.Mode == ModeRepositoryKey {
		key = repoKey
	}
	pkgDir := filepath.Join(cacheDir, packagesDir, key)
	res := &Result{Commit: hash.String(), Key: key}
	if _, err := os.Stat(pkgDir); err == nil {
		res.Cached = true
	} else if err := extract(repo, *hash, pkgDir); err != nil {
		return nil, fmt.Errorf("extract %s: %w", spec, err)
	}

	if res.Name, err = packageName(pkgDir); err != nil {
		return nil, err
	}
	if err := link(pkgDir, filepath.Join(projectDir, "node_modules", res.Name)); err != nil {
		return nil, err
	}
	if err := addDependency(filepath.Join(projectDir, "package.json"), res.Name, spec); err != nil {
		return nil, err
	}
	c.logger().Info("installed", "name", res.Name, "commit", res.Commit, "cached", res.Cached, "mode", c.Mode)
	return res, nil
}

// mirror opens or creates the bare mirror of url. Existing mirrors are
// refreshed unless the mode skips it.
func (c *Consumer) mirror(ctx context.Context, dir, url string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	switch {
	case err == nil:
		if c.Mode == ModeSkipFetch {
			c.logger().Debug("mirror reused without fetch", "url", url)
			return repo, nil
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, err
		}
		if repo, err = git.PlainInit(dir, true); err != nil {
			return nil, fmt.Errorf("init mirror: %w", err)
		}
		if _, err := repo.CreateRemote(&config.RemoteConfig{Name: git.DefaultRemoteName, URLs: []string{url}, Fetch: fetchSpecs}); err != nil {
			return nil, fmt.Errorf("configure mirror: %w", err)
		}
	default:
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   fetchSpecs,
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	c.logger().Debug("mirror fetched", "url", url)
	return repo, nil
}

func (c *Consumer) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard)
	}
	return c.Logger
}

// resolve peels ref to a commit, trying it as a tag first.
func resolve(repo *git.Repository, ref string) (*plumbing.Hash, error) {
	for _, rev := range []string{"refs/tags/" + ref, "refs/heads/" + ref, ref} {
		if hash, err := repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
			return hash, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrRefNotFound, ref)
}

// extract writes the tree of commit into dir through a temporary sibling so
// a partial extraction never looks complete.
func extract(repo *git.Repository, hash plumbing.Hash, dir string) error {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), ".extract-*")
	if err != nil {
		return err
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		return writeFile(tmp, f)
	})
	if err == nil {
		err = os.Rename(tmp, dir)
	}
	if err != nil {
		_ = os.RemoveAll(tmp)
	}
	return err
}

func writeFile(root string, f *object.File) error {
	mode, err := f.Mode.ToOSFileMode()
	if err != nil || !mode.IsRegular() {
		return nil //nolint:nilerr // symlinks and submodules are not installed
	}
	contents, err := f.Contents()
	if err != nil {
		return err
	}
	path := filepath.Join(root, filepath.FromSlash(f.Name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), mode.Perm()|0o600)
}

func packageName(pkgDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return "", fmt.Errorf("read package manifest: %w", err)
	}
	var manifest struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("parse package manifest: %w", err)
	}
	if manifest.Name == "" || strings.ContainsAny(manifest.Name, `/\`) || manifest.Name == "." || manifest.Name == ".." {
		return "", fmt.Errorf("package manifest has unusable name %q", manifest.Name)
	}
	return manifest.Name, nil
}

// link replaces dst with a copy of the cached package.
func link(pkgDir, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(pkgDir))
}

// addDependency records name -> spec in the project manifest, keeping
// every other field.
func addDependency(manifestPath, name, spec string) error {
	manifest := map[string]any{}
	data, err := os.ReadFile(manifestPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse project manifest: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	deps, _ := manifest["dependencies"].(map[string]any)
	if deps == nil {
		deps = map[string]any{}
	}
	deps[name] = spec
	manifest["dependencies"] = deps

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath, append(out, '\n'), 0o644)
}

// sanitize maps a URL onto one path segment.
func sanitize(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(s, "http://"), "https://"), ".git")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
