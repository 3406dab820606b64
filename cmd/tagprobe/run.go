// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/invowk/tagprobe/internal/config"
	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/issue"
	"github.com/invowk/tagprobe/internal/scenario"
	"github.com/invowk/tagprobe/internal/watch"

	"github.com/spf13/cobra"
)

type runFlags struct {
	format     string
	owner      string
	name       string
	versions   []string
	program    string
	mode       string
	policy     string
	autoCreate bool
	noVerify   bool

	watch        bool
	watchDir     string
	watchPattern []string
	debounce     time.Duration
}

func newRunCommand(a *app) *cobra.Command {
	f := &runFlags{}
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the tag refetch scenario once, or on every change with --watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if f.watch {
				return a.watchScenario(cmd.Context(), cfg, f)
			}
			return a.runScenario(cmd.Context(), cfg)
		},
	}

	fl := c.Flags()
	fl.StringVarP(&f.format, "format", "f", "", "report format: text, markdown, yaml or json")
	fl.StringVar(&f.owner, "owner", "", "repository owner")
	fl.StringVar(&f.name, "name", "", "repository and package name")
	fl.StringSliceVar(&f.versions, "versions", nil, "versions to publish, in order")
	fl.StringVar(&f.program, "consumer", "", `consumer program, or "builtin"`)
	fl.StringVar(&f.mode, "mode", "", "builtin consumer caching: exact, skip-fetch or repository-key")
	fl.StringVar(&f.policy, "policy", "", "server policy: accept-all, require-known-target or reject-tags")
	fl.BoolVar(&f.autoCreate, "auto-create", false, "let the server create the repository on first access")
	fl.BoolVar(&f.noVerify, "no-verify", false, "trust consumer exit codes instead of checking installed content")
	fl.BoolVarP(&f.watch, "watch", "w", false, "rerun whenever files change")
	fl.StringVar(&f.watchDir, "watch-dir", "", "directory to watch (default: working directory)")
	fl.StringSliceVar(&f.watchPattern, "watch-pattern", nil, "glob of files that trigger a rerun (default: all)")
	fl.DurationVar(&f.debounce, "debounce", watch.DefaultDebounce, "quiet period before a rerun")
	return c
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("format") {
		cfg.UI.Format = f.format
	}
	if changed("owner") {
		cfg.Scenario.Owner = f.owner
	}
	if changed("name") {
		cfg.Scenario.Name = f.name
	}
	if changed("versions") {
		cfg.Scenario.Versions = f.versions
	}
	if changed("consumer") {
		cfg.Consumer.Program = f.program
	}
	if changed("mode") {
		cfg.Consumer.Mode = f.mode
	}
	if changed("policy") {
		cfg.Server.Policy = config.PolicyName(f.policy)
	}
	if changed("auto-create") {
		cfg.Server.AutoCreate = f.autoCreate
	}
	if f.noVerify {
		cfg.Scenario.VerifyContent = false
	}
}

// runScenario runs one scenario, prints its report and maps a failure to
// an ExitError.
func (a *app) runScenario(ctx context.Context, cfg *config.Config) error {
	format, err := scenario.ParseFormat(cfg.UI.Format)
	if err != nil {
		return err
	}
	logger := a.logger()
	sc, runner, err := cfg.ToScenario(nil, logger)
	if err != nil {
		return err
	}

	report, runErr := scenario.Run(ctx, sc, runner)
	if err := report.Render(a.stdout, format, glamourStyle(cfg.UI.ColorScheme)); err != nil {
		return err
	}
	if runErr == nil {
		return nil
	}

	id := issueFor(runErr)
	a.printIssue(id, cfg.UI.ColorScheme)
	if a.verbose {
		fmt.Fprintln(a.stderr, formatError(runErr, true))
	}
	code := ExitScenarioFailed
	if id == issue.CleanupFailedId {
		code = ExitCleanupFailed
	}
	return &ExitError{Code: code, Err: runErr}
}

// watchScenario runs the scenario now and again after every change under
// the watched directory until ctx is done. Failed runs do not stop it.
func (a *app) watchScenario(ctx context.Context, cfg *config.Config, f *runFlags) error {
	rerun := func(ctx context.Context) {
		if err := a.runScenario(ctx, cfg); err != nil {
			fmt.Fprintln(a.stderr, WarningStyle.Render("!")+" "+formatError(err, false))
		}
	}

	w, err := watch.New(watch.Config{
		Dir:      f.watchDir,
		Patterns: f.watchPattern,
		Debounce: f.debounce,
		Logger:   a.logger(),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(a.stdout, "\n%s %d change(s), rerunning\n", CmdStyle.Render("→"), len(changed))
			rerun(ctx)
			return nil
		},
	})
	if err != nil {
		return err
	}

	rerun(ctx)
	fmt.Fprintf(a.stdout, "\n%s Watching %s (Ctrl+C to stop)\n", CmdStyle.Render("→"), w.Dir())
	return w.Run(ctx)
}

// issueFor picks the guidance that matches a scenario failure.
func issueFor(err error) issue.Id {
	var se *failure.ScenarioError
	kind := failure.KindOf(err)
	switch {
	case errors.Is(err, scenario.ErrStaleInstall):
		return issue.StaleInstallId
	case kind == failure.ServerStart && errors.Is(err, exec.ErrNotFound):
		return issue.GitNotFoundId
	case kind == failure.Install && errors.Is(err, exec.ErrNotFound):
		return issue.ConsumerNotFoundId
	case kind == failure.Allocation && isPortStep(err):
		return issue.PortUnavailableId
	case kind == failure.ServerStart:
		return issue.HTTPBackendFailedId
	case kind == failure.Clone:
		return issue.CloneFailedId
	case kind == failure.Mutation:
		return issue.MutationFailedId
	case kind == failure.Install:
		return issue.InstallFailedId
	case kind == failure.Cleanup || (errors.As(err, &se) && se.Primary == nil):
		return issue.CleanupFailedId
	default:
		return 0
	}
}

func isPortStep(err error) bool {
	var step *failure.StepError
	return errors.As(err, &step) && (step.Step == "allocate port" || step.Step == "find free port")
}
