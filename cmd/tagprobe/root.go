// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the tagprobe command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invowk/tagprobe/internal/config"
	"github.com/invowk/tagprobe/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// app carries the output streams and global flags shared by commands.
	app struct {
		stdout io.Writer
		stderr io.Writer

		verbose    bool
		configPath string
	}
)

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(os.Stdout, os.Stderr),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "tagprobe",
		Short: "Check that a package manager refetches tags of cached git dependencies",
		Long: TitleStyle.Render("tagprobe") + SubtitleStyle.Render(" - git tag refetch regression probe") + `

tagprobe starts a throwaway git server, publishes a package under a series
of version tags and installs each tag with a package manager that keeps a
cache between installs. A consumer that answers later tags from a stale
cached clone fails the run.

` + SubtitleStyle.Render("Examples:") + `
  tagprobe run                          Probe the builtin go-git consumer
  tagprobe run --consumer yarn          Probe yarn
  tagprobe run --mode skip-fetch        Reproduce the regression
  tagprobe serve --create john-doe/foo  Serve repositories until Ctrl+C
  tagprobe config show                  Show the effective configuration`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging and error chains")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: <config dir>/config.cue)")

	root.AddCommand(
		newRunCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newRefconsumerCommand(a),
	)
	return root
}

// loadConfig loads the configuration for the working directory and applies
// the UI settings it carries.
func (a *app) loadConfig(ctx context.Context) (*config.Config, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	cfg, path, err := config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath, WorkDir: wd})
	if err != nil {
		a.printIssue(issue.ConfigLoadFailedId, config.ColorSchemeAuto)
		return nil, "", err
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}
	switch cfg.UI.ColorScheme {
	case config.ColorSchemeDark:
		lipgloss.SetHasDarkBackground(true)
	case config.ColorSchemeLight:
		lipgloss.SetHasDarkBackground(false)
	}
	return cfg, path, nil
}

func (a *app) logger() *log.Logger {
	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{Level: level, ReportTimestamp: a.verbose})
}

// printIssue renders the guidance for id on stderr.
func (a *app) printIssue(id issue.Id, scheme config.ColorScheme) {
	i := issue.Get(id)
	if i == nil {
		return
	}
	rendered, err := i.Render(glamourStyle(scheme))
	if err != nil {
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// formatError renders err for display, with suggestions and, in verbose
// mode, the error chain.
func formatError(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

func glamourStyle(scheme config.ColorScheme) string {
	switch scheme {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	default:
		return "auto"
	}
}
