// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"errors"
	"fmt"

	"github.com/invowk/tagprobe/internal/consumer"
	"github.com/invowk/tagprobe/internal/gitclient"
	"github.com/invowk/tagprobe/internal/gitserver"

	"github.com/charmbracelet/log"
)

const (
	// DefaultOwner is the owner of the scenario repository.
	DefaultOwner = "john-doe"
	// DefaultName is the scenario repository and package name.
	DefaultName = "foo"
	// DefaultHost is the bind address of the git server.
	DefaultHost = "127.0.0.1"
)

// ErrInvalidConfig is wrapped by Config.Validate errors.
var ErrInvalidConfig = errors.New("invalid scenario config")

// Config describes one scenario run. Start from DefaultConfig; the zero
// value disables repository creation and content checks.
type Config struct {
	Owner string
	Name  string
	// Versions are published and installed in order, one round each.
	Versions []string
	// Host is the bind address; clients always use localhost.
	Host   string
	Branch string
	// CreateRepository initialises the repository before cloning.
	CreateRepository bool
	// VerifyContent checks each installed package against its round.
	VerifyContent bool
	// AutoCreate lets the server create a missing repository on first
	// access.
	AutoCreate bool
	Policy     gitserver.Policy
	Consumer   consumer.Options
	GitBinary  string
	Logger     *log.Logger
}

// DefaultConfig returns the canonical two-round scenario.
func DefaultConfig() Config {
	return Config{
		Owner:            DefaultOwner,
		Name:             DefaultName,
		Versions:         []string{"1.0.0", "2.0.0"},
		Host:             DefaultHost,
		Branch:           gitclient.DefaultBranch,
		CreateRepository: true,
		VerifyContent:    true,
		Policy:           gitserver.AcceptAll(),
		Consumer:         consumer.Options{}.WithDefaults(),
	}
}

// Validate checks the fields Run cannot default.
func (c Config) Validate() error {
	if err := gitserver.ValidateRepository(c.Owner, c.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("%w: at least one version is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Versions))
	for _, v := range c.Versions {
		if v == "" {
			return fmt.Errorf("%w: empty version", ErrInvalidConfig)
		}
		if seen[v] {
			return fmt.Errorf("%w: version %s listed twice", ErrInvalidConfig, v)
		}
		seen[v] = true
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Branch == "" {
		c.Branch = gitclient.DefaultBranch
	}
	if c.GitBinary == "" {
		c.GitBinary = "git"
	}
	c.Consumer = c.Consumer.WithDefaults()
	return c
}
