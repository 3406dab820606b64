// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/invowk/tagprobe/internal/refconsumer"

	"github.com/spf13/cobra"
)

// newRefconsumerCommand exposes the builtin consumer so it can be driven
// like an external package manager:
//
//	tagprobe refconsumer add http://localhost:8080/john-doe/foo.git#v1.0.0 --cache-folder ./cache
func newRefconsumerCommand(a *app) *cobra.Command {
	c := refconsumer.NewCommand(refconsumer.ModeExact, "", a.logger().WithPrefix("refconsumer"))
	c.Hidden = true
	return c
}
