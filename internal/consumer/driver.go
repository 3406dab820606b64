// SPDX-License-Identifier: MPL-2.0

package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/workspace"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"
)

const (
	// DefaultCacheFlag pins the consumer's cache directory.
	DefaultCacheFlag = "--cache-folder"
	// DefaultIdentity is the name of the consuming project.
	DefaultIdentity = "test"
	// DefaultProgram is the package manager invoked when none is configured.
	DefaultProgram = "yarn"

	projectDir = "project"
	cacheDir   = "cache"
)

// ErrSessionClosed is returned by Installed after Clean.
var ErrSessionClosed = errors.New("consumer session cleaned")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// Options configures the consumer command line.
	Options struct {
		// Program is the consumer executable (default: yarn).
		Program string `json:"program" yaml:"program" mapstructure:"program"`
		// PrefixArgs come before the "add" subcommand.
		PrefixArgs []string `json:"prefix_args,omitempty" yaml:"prefix_args,omitempty" mapstructure:"prefix_args"`
		// CacheFlag names the cache directory flag (default: --cache-folder).
		CacheFlag string `json:"cache_flag" yaml:"cache_flag" mapstructure:"cache_flag"`
		// ExtraArgs are appended to every add.
		ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty" mapstructure:"extra_args"`
		// Identity is the consuming project's package name (default: test).
		Identity string `json:"identity" yaml:"identity" mapstructure:"identity"`
		// Root is the parent of session directories (default: system temp).
		Root string `json:"-" yaml:"-" mapstructure:"-"`
		Logger *log.Logger `json:"-" yaml:"-" mapstructure:"-"`
	}

	// Driver creates consumer sessions.
	Driver struct {
		runner procexec.Runner
		env    procexec.Env
		opts   Options
		logger *log.Logger
	}

	// Session is one consuming project with its own cache.
	Session struct {
		driver  *Driver
		root    string
		project string
		cache   string

		mu      sync.Mutex
		cleaned bool
	}

	// Installed is the content of an installed dependency.
	Installed struct {
		Dir     string `json:"-"`
		Name    string `json:"name"`
		Version string `json:"version"`
		// Module is the dependency's index.js.
		Module string `json:"-"`
	}

	projectManifest struct {
		Name    string `json:"name"`
		License string `json:"license"`
	}
)

// WithDefaults fills in unset options.
func (o Options) WithDefaults() Options {
	if o.Program == "" {
		o.Program = DefaultProgram
	}
	if o.CacheFlag == "" {
		o.CacheFlag = DefaultCacheFlag
	}
	if o.Identity == "" {
		o.Identity = DefaultIdentity
	}
	return o
}

// NewDriver returns a driver that runs the consumer through runner with env
// as its entire environment.
func NewDriver(runner procexec.Runner, env procexec.Env, opts Options) *Driver {
	opts = opts.WithDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Driver{runner: runner, env: env, opts: opts, logger: logger.WithPrefix("consumer")}
}

// Options returns the effective options.
func (d *Driver) Options() Options { return d.opts }

// CreateSession allocates a fresh session tree with an empty cache and a
// minimal project manifest.
func (d *Driver) CreateSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.Allocation, "create consumer session", err)
	}
	root, err := os.MkdirTemp(d.opts.Root, "consumer-*")
	if err != nil {
		return nil, failure.New(failure.Allocation, "create consumer session", err)
	}
	s := &Session{
		driver:  d,
		root:    root,
		project: filepath.Join(root, projectDir),
		cache:   filepath.Join(root, cacheDir),
	}
	if err := s.materialize(); err != nil {
		_ = workspace.Destroy(root)
		return nil, err
	}
	d.logger.Debug("session created", "root", root)
	return s, nil
}

func (s *Session) materialize() error {
	for _, dir := range []string{s.project, s.cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return failure.New(failure.Allocation, "create consumer session", err)
		}
	}
	manifest, err := json.Marshal(projectManifest{Name: s.driver.opts.Identity, License: "MIT"})
	if err != nil {
		return failure.New(failure.Allocation, "create consumer session", err)
	}
	if err := os.WriteFile(filepath.Join(s.project, "package.json"), manifest, 0o644); err != nil {
		return failure.New(failure.Allocation, "create consumer session", err)
	}
	return nil
}

// Root returns the session directory.
func (s *Session) Root() string { return s.root }

// ProjectDir returns the consumer's working directory.
func (s *Session) ProjectDir() string { return s.project }

// CacheDir returns the pinned cache directory.
func (s *Session) CacheDir() string { return s.cache }

// Command returns the add invocation for spec without running it.
func (s *Session) Command(spec string, extra ...string) procexec.Command {
	o := s.driver.opts
	args := make([]string, 0, len(o.PrefixArgs)+4+len(o.ExtraArgs)+len(extra))
	args = append(args, o.PrefixArgs...)
	args = append(args, "add", spec, o.CacheFlag, s.cache)
	args = append(args, o.ExtraArgs...)
	args = append(args, extra...)
	return procexec.Command{Program: o.Program, Args: args, Dir: s.project, Env: s.driver.env}
}

// Add installs spec into the project. A cleaned session is recreated empty
// first. A spawn error or non-zero exit is an InstallFailure.
func (s *Session) Add(ctx context.Context, spec string, extra ...string) (*procexec.Result, error) {
	step := "add " + spec
	s.mu.Lock()
	if s.cleaned {
		if err := s.materialize(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.cleaned = false
	}
	s.mu.Unlock()

	cmd := s.Command(spec, extra...)
	s.driver.logger.Info("installing", "spec", spec)
	res, err := s.driver.runner.Run(ctx, cmd)
	if err != nil {
		se := failure.New(failure.Install, step, err)
		se.Command = procexec.FormatCommand(cmd)
		return nil, se
	}
	if !res.ExitCode.IsSuccess() {
		return res, &failure.StepError{
			Kind:     failure.Install,
			Step:     step,
			Command:  procexec.FormatCommand(cmd),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
			Cause:    fmt.Errorf("%s exited with %s", cmd.Program, res.ExitCode),
		}
	}
	return res, nil
}

// Installed reads node_modules/<name> of the project.
func (s *Session) Installed(name string) (*Installed, error) {
	s.mu.Lock()
	cleaned := s.cleaned
	s.mu.Unlock()
	if cleaned {
		return nil, ErrSessionClosed
	}

	dir := filepath.Join(s.project, "node_modules", name)
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("read installed manifest of %s: %w", name, err)
	}
	inst := &Installed{Dir: dir}
	if err := json.Unmarshal(data, inst); err != nil {
		return nil, fmt.Errorf("parse installed manifest of %s: %w", name, err)
	}
	module, err := os.ReadFile(filepath.Join(dir, "index.js"))
	if err != nil {
		return nil, fmt.Errorf("read installed module of %s: %w", name, err)
	}
	inst.Module = string(module)
	return inst, nil
}

// Clean removes the whole session tree. Extra calls are no-ops.
func (s *Session) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return nil
	}
	if err := workspace.Destroy(s.root); err != nil {
		return err
	}
	s.cleaned = true
	s.driver.logger.Debug("session cleaned", "root", s.root)
	return nil
}
