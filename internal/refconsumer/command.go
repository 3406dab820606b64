// SPDX-License-Identifier: MPL-2.0

package refconsumer

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// DefaultCacheFlag matches consumer.DefaultCacheFlag without the dashes.
const DefaultCacheFlag = "cache-folder"

// NewCommand returns the consumer command line:
//
//	refconsumer [--mode m] add <url>#<ref> --cache-folder <dir>
//
// dir is the project directory; empty means the working directory.
func NewCommand(mode Mode, dir string, logger *log.Logger) *cobra.Command {
	c := &Consumer{Mode: mode, Logger: logger}

	root := &cobra.Command{
		Use:           "refconsumer",
		Short:         "Install git dependencies with a go-git based consumer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Var(&c.Mode, "mode", "caching behaviour: exact, skip-fetch or repository-key")

	var cache string
	add := &cobra.Command{
		Use:   "add <url>#<ref>",
		Short: "Install a dependency into the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cache == "" {
				return errors.New("--" + DefaultCacheFlag + " is required")
			}
			project := dir
			if project == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				project = wd
			}
			res, err := c.Add(cmd.Context(), project, args[0], cache)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "success Installed %q at %s\n", res.Name, res.Commit)
			return nil
		},
	}
	add.Flags().StringVar(&cache, DefaultCacheFlag, "", "cache directory")
	root.AddCommand(add)
	return root
}
