// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/invowk/tagprobe/internal/consumer"
	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/gitclient"
	"github.com/invowk/tagprobe/internal/gitserver"
	"github.com/invowk/tagprobe/internal/netport"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/workspace"
	"github.com/invowk/tagprobe/pkg/types"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Workspace subdirectories.
const (
	ServerDir   = "server"
	ClientDir   = "client"
	HomeDir     = "home"
	ConsumerDir = "consumer"
)

// run holds the resources acquired so far; cleanup releases whichever exist.
type run struct {
	cfg    Config
	runner procexec.Runner
	logger *log.Logger
	report *Report

	ws      *workspace.Workspace
	server  *gitserver.Server
	session *consumer.Session
}

// Run executes the scenario. Any step failure aborts the remaining steps;
// cleanup always runs and its failures never replace the primary one. The
// report is returned in every case. A nil runner runs real processes.
func Run(ctx context.Context, cfg Config, runner procexec.Runner) (*Report, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if runner == nil {
		runner = procexec.NewExecRunner(logger.WithPrefix("exec"))
	}
	r := &run{
		cfg:    cfg,
		runner: runner,
		logger: logger.WithPrefix("scenario"),
		report: &Report{RunID: uuid.NewString(), Repository: cfg.Owner + "/" + cfg.Name, Started: time.Now()},
	}

	var primary error
	if err := cfg.Validate(); err != nil {
		primary = failure.New(failure.Allocation, "validate config", err)
	} else {
		primary = r.execute(ctx)
	}
	cleanupErrs := r.cleanup()

	err := failure.Combine(primary, cleanupErrs)
	r.report.finish(err)
	if err != nil {
		r.logger.Error("scenario failed", "run", r.report.RunID, "err", err)
	} else {
		r.logger.Info("scenario passed", "run", r.report.RunID, "rounds", len(r.report.Rounds))
	}
	return r.report, err
}

func (r *run) execute(ctx context.Context) error {
	var (
		dirs    = map[string]string{}
		port    types.ListenPort
		baseURL string
		repo    string
	)

	if err := r.step("allocate workspace", func() error {
		ws, err := workspace.Allocate("tagprobe")
		if err != nil {
			return err
		}
		r.ws = ws
		r.report.Workspace = ws.Root()
		for _, name := range []string{ServerDir, ClientDir, HomeDir, ConsumerDir} {
			if dirs[name], err = ws.Subdir(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	env := procexec.Hermetic(dirs[HomeDir])

	if err := r.step("allocate port", func() (err error) {
		port, err = netport.Free(ctx, r.cfg.Host)
		return err
	}); err != nil {
		return err
	}

	if err := r.step("start server", func() error {
		srv, err := gitserver.New(gitserver.Config{
			StorageRoot: types.StorageDir(dirs[ServerDir]),
			Host:        r.cfg.Host,
			Port:        port,
			Policy:      r.cfg.Policy,
			AutoCreate:  r.cfg.AutoCreate,
			GitBinary:   r.cfg.GitBinary,
			Env:         env,
			Logger:      r.logger,
		})
		if err != nil {
			return err
		}
		r.server = srv
		if err := srv.Start(ctx); err != nil {
			return err
		}
		r.report.Port = int(srv.Port())
		baseURL = srv.URL()
		r.report.BaseURL = baseURL
		return nil
	}); err != nil {
		return err
	}

	if r.cfg.CreateRepository {
		if err := r.step("create repository", func() error {
			if _, err := r.server.CreateRepository(r.cfg.Owner, r.cfg.Name); err != nil {
				return failure.New(failure.ServerStart, "create repository "+r.report.Repository, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	client := &gitclient.Client{
		Runner:    r.runner,
		Env:       env,
		GitBinary: r.cfg.GitBinary,
		Branch:    r.cfg.Branch,
		Logger:    r.logger.WithPrefix("gitclient"),
	}
	if err := r.step("clone", func() (err error) {
		repo, err = client.Clone(ctx, baseURL, r.cfg.Owner, r.cfg.Name, dirs[ClientDir])
		return err
	}); err != nil {
		return err
	}

	opts := r.cfg.Consumer
	opts.Root = dirs[ConsumerDir]
	opts.Logger = r.logger
	driver := consumer.NewDriver(r.runner, env, opts)
	if err := r.step("create consumer session", func() (err error) {
		r.session, err = driver.CreateSession(ctx)
		return err
	}); err != nil {
		return err
	}

	for _, version := range r.cfg.Versions {
		if err := r.round(ctx, client, repo, baseURL, version); err != nil {
			return err
		}
	}
	return nil
}

// round publishes one version and installs its tag.
func (r *run) round(ctx context.Context, client *gitclient.Client, repo, baseURL, version string) error {
	var published *gitclient.Round
	if err := r.step("publish "+version, func() (err error) {
		published, err = client.CommitVersion(ctx, repo, r.cfg.Name, version)
		return err
	}); err != nil {
		return err
	}

	rr := Round{
		Version:   published.Version,
		Tag:       published.Tag,
		Commit:    published.Commit,
		Specifier: consumer.Specifier(baseURL, r.cfg.Owner, r.cfg.Name, published.Tag),
	}
	if commit, err := r.server.ResolveTag(r.cfg.Owner, r.cfg.Name, published.Tag); err == nil {
		rr.ServerCommit = commit
	}
	r.report.Rounds = append(r.report.Rounds, rr)
	last := &r.report.Rounds[len(r.report.Rounds)-1]

	if err := r.step("add "+published.Tag, func() error {
		_, err := r.session.Add(ctx, rr.Specifier)
		return err
	}); err != nil {
		return err
	}
	last.Installed = true

	if !r.cfg.VerifyContent {
		return nil
	}
	return r.step("verify "+published.Tag, func() error {
		inst, err := r.session.Installed(r.cfg.Name)
		if err != nil {
			return failure.New(failure.Install, "verify "+published.Tag, err)
		}
		last.InstalledVersion = inst.Version
		if inst.Version != version || inst.Module != gitclient.ModuleFile(version) {
			return failure.New(failure.Install, "verify "+published.Tag,
				fmt.Errorf("installed %s@%s, want %s: %w", r.cfg.Name, inst.Version, version, ErrStaleInstall))
		}
		last.Verified = true
		return nil
	})
}

// step times fn and records it in the report.
func (r *run) step(name string, fn func() error) error {
	r.logger.Debug("step", "name", name)
	start := time.Now()
	err := fn()
	r.report.Steps = append(r.report.Steps, newStep(name, time.Since(start), err))
	return err
}

// cleanup releases every acquired resource, in reverse order, and collects
// each failure as a CleanupFailure.
func (r *run) cleanup() []error {
	var errs []error
	record := func(name string, fn func() error) {
		start := time.Now()
		err := fn()
		if err != nil && failure.KindOf(err) != failure.Cleanup {
			err = failure.New(failure.Cleanup, name, err)
		}
		r.report.Cleanup = append(r.report.Cleanup, newStep(name, time.Since(start), err))
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r.session != nil {
		record("clean consumer session", r.session.Clean)
	}
	if r.server != nil {
		record("stop server", func() error {
			r.report.Events = eventsOf(r.server.Events())
			return r.server.Stop()
		})
	}
	if r.ws != nil {
		record("destroy workspace", r.ws.Destroy)
	}
	return errs
}
