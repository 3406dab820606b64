// SPDX-License-Identifier: MPL-2.0

// Package netport finds free TCP ports for ephemeral servers.
package netport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/pkg/types"
)

// Free asks the kernel for an unused port on host and releases it at once.
// Each run takes a fresh port; a lost race surfaces as a bind error rather
// than a retry.
func Free(ctx context.Context, host string) (types.ListenPort, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, failure.New(failure.Allocation, "find free port", err)
	}
	defer ln.Close() //nolint:errcheck // port is only probed

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, failure.New(failure.Allocation, "find free port", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, failure.New(failure.Allocation, "find free port", fmt.Errorf("parse port %q: %w", portStr, err))
	}
	return types.ListenPort(port), nil
}
