// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/invowk/tagprobe/internal/config"
	"github.com/invowk/tagprobe/internal/gitserver"
	"github.com/invowk/tagprobe/internal/workspace"
	"github.com/invowk/tagprobe/pkg/types"

	"github.com/spf13/cobra"
)

type serveFlags struct {
	root       string
	host       string
	port       int
	policy     string
	autoCreate bool
	create     []string
}

func newServeCommand(a *app) *cobra.Command {
	f := &serveFlags{}
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve git repositories over smart HTTP until interrupted",
		Long: `Serve git repositories over smart HTTP until interrupted.

Repositories live at <root>/<owner>/<name>.git and are reachable at
http://localhost:<port>/<owner>/<name>. Without --root a temporary
directory is used and removed on exit. Every policy decision is printed
when the server stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("host") {
				f.host = cfg.Server.Host
			}
			if !cmd.Flags().Changed("policy") {
				f.policy = string(cfg.Server.Policy)
			}
			if !cmd.Flags().Changed("auto-create") {
				f.autoCreate = cfg.Server.AutoCreate
			}
			return a.serve(cmd.Context(), cfg, f)
		},
	}

	fl := c.Flags()
	fl.StringVar(&f.root, "root", "", "storage root (default: a temporary directory)")
	fl.StringVar(&f.host, "host", "", "bind address")
	fl.IntVarP(&f.port, "port", "p", 0, "port to listen on (0 picks a free one)")
	fl.StringVar(&f.policy, "policy", "", "accept-all, require-known-target or reject-tags")
	fl.BoolVar(&f.autoCreate, "auto-create", false, "create missing repositories on first access")
	fl.StringSliceVar(&f.create, "create", nil, "owner/name repositories to initialise before serving")
	return c
}

func (a *app) serve(ctx context.Context, cfg *config.Config, f *serveFlags) (err error) {
	policy, err := config.PolicyName(f.policy).Policy()
	if err != nil {
		return err
	}

	root := f.root
	if root == "" {
		ws, wsErr := workspace.Allocate("tagprobe-serve")
		if wsErr != nil {
			return wsErr
		}
		defer func() {
			if dErr := ws.Destroy(); dErr != nil && err == nil {
				err = dErr
			}
		}()
		if root, err = ws.Subdir("repos"); err != nil {
			return err
		}
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	srv, err := gitserver.New(gitserver.Config{
		StorageRoot: types.StorageDir(root),
		Host:        f.host,
		Port:        types.ListenPort(f.port),
		Policy:      policy,
		AutoCreate:  f.autoCreate,
		GitBinary:   cfg.Server.GitBinary,
		Logger:      a.logger(),
	})
	if err != nil {
		return err
	}

	for _, repo := range f.create {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok {
			return fmt.Errorf("--create %q: want owner/name", repo)
		}
		if _, err := srv.CreateRepository(owner, name); err != nil {
			return err
		}
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s %s\n", SuccessStyle.Render("Serving"), CmdStyle.Render(srv.URL()))
	fmt.Fprintf(a.stdout, "%s %s\n", SubtitleStyle.Render("Storage:"), srv.StorageRoot())

	<-ctx.Done()
	stopErr := srv.Stop()
	printEvents(a.stdout, srv.Events())
	return stopErr
}

func printEvents(w io.Writer, records []gitserver.Record) {
	if len(records) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nOP\tREPOSITORY\tREF\tDECISION")
	for _, rec := range records {
		decision := "accepted"
		if !rec.Accepted {
			decision = "rejected: " + rec.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Op, rec.Repo(), rec.Ref, decision)
	}
	_ = tw.Flush()
}
