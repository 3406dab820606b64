// SPDX-License-Identifier: MPL-2.0

package gitclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/procexec"

	"github.com/charmbracelet/log"
)

// DefaultBranch is the branch rounds are pushed to.
const DefaultBranch = "master"

type (
	// Client drives git on the client side of a scenario. The zero value is
	// not usable; Runner and Env are required.
	Client struct {
		Runner procexec.Runner
		// Env is the hermetic base environment for every git call.
		Env procexec.Env
		// GitBinary defaults to "git".
		GitBinary string
		// Branch defaults to DefaultBranch.
		Branch string
		Logger *log.Logger
	}

	// Round is one published version.
	Round struct {
		Version string `json:"version" yaml:"version"`
		Tag     string `json:"tag" yaml:"tag"`
		Commit  string `json:"commit" yaml:"commit"`
	}
)

// Clone clones <baseURL>/<owner>/<name> into clientRoot and returns the
// working copy. The repository may be empty.
func (c *Client) Clone(ctx context.Context, baseURL, owner, name, clientRoot string) (string, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + owner + "/" + name
	if _, err := c.run(ctx, failure.Clone, "clone "+owner+"/"+name, clientRoot, "clone", url, name); err != nil {
		return "", err
	}
	dir := filepath.Join(clientRoot, name)
	c.logger().Info("cloned", "url", url, "dir", dir)
	return dir, nil
}

// CommitVersion publishes version of packageName from repoDir: it writes
// index.js and package.json, commits, tags v<version>, then pushes the
// branch and the tag in that order.
func (c *Client) CommitVersion(ctx context.Context, repoDir, packageName, version string) (*Round, error) {
	manifest, err := Manifest(packageName, version)
	if err != nil {
		return nil, failure.New(failure.Mutation, "encode "+ManifestFileName, err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, ModuleFileName), []byte(ModuleFile(version)), 0o644); err != nil {
		return nil, failure.New(failure.Mutation, "write "+ModuleFileName, err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, ManifestFileName), manifest, 0o644); err != nil {
		return nil, failure.New(failure.Mutation, "write "+ManifestFileName, err)
	}

	tag := TagName(version)
	steps := []struct {
		step string
		args []string
	}{
		{"stage files", []string{"add", "."}},
		{"commit " + version, []string{"commit", "-m", "Init"}},
		{"tag " + tag, []string{"tag", tag}},
		{"push branch " + c.branch(), []string{"push", "origin", c.branch()}},
		{"push tag " + tag, []string{"push", "origin", tag}},
	}
	for _, s := range steps {
		if _, err := c.run(ctx, failure.Mutation, s.step, repoDir, s.args...); err != nil {
			return nil, err
		}
	}

	res, err := c.run(ctx, failure.Mutation, "resolve HEAD", repoDir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	round := &Round{Version: version, Tag: tag, Commit: strings.TrimSpace(res.Stdout)}
	c.logger().Info("published", "tag", tag, "commit", round.Commit)
	return round, nil
}

// Environ returns the environment git runs under, including the default
// branch setting.
func (c *Client) Environ() procexec.Env {
	return c.Env.WithGitConfig("init.defaultBranch", c.branch())
}

func (c *Client) run(ctx context.Context, kind failure.Kind, step, dir string, args ...string) (*procexec.Result, error) {
	cmd := procexec.Command{Program: c.gitBinary(), Args: args, Dir: dir, Env: c.Environ()}
	res, err := c.Runner.Run(ctx, cmd)
	if err != nil {
		se := failure.New(kind, step, err)
		se.Command = procexec.FormatCommand(cmd)
		return nil, se
	}
	if !res.ExitCode.IsSuccess() {
		return nil, &failure.StepError{
			Kind:     kind,
			Step:     step,
			Command:  procexec.FormatCommand(cmd),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
			Cause:    fmt.Errorf("git %s failed", args[0]),
		}
	}
	c.logger().Debug("git", "step", step, "args", args)
	return res, nil
}

func (c *Client) gitBinary() string {
	if c.GitBinary == "" {
		return "git"
	}
	return c.GitBinary
}

func (c *Client) branch() string {
	if c.Branch == "" {
		return DefaultBranch
	}
	return c.Branch
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard)
	}
	return c.Logger
}
