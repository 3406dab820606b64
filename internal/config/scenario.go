// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"slices"

	"github.com/invowk/tagprobe/internal/consumer"
	"github.com/invowk/tagprobe/internal/gitserver"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/internal/refconsumer"
	"github.com/invowk/tagprobe/internal/scenario"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"
)

// Policy returns the server policy the preset names.
func (p PolicyName) Policy() (gitserver.Policy, error) {
	switch p {
	case PolicyAcceptAll, "":
		return gitserver.AcceptAll(), nil
	case PolicyRequireKnownTarget:
		return gitserver.AcceptAll().With(gitserver.OpTag, gitserver.RequireKnownTarget), nil
	case PolicyRejectTags:
		return gitserver.AcceptAll().With(gitserver.OpTag, gitserver.Reject("tags are not accepted")), nil
	default:
		return gitserver.Policy{}, fmt.Errorf("%w %q", ErrInvalidPolicy, p)
	}
}

// IsBuiltin reports whether the builtin go-git consumer is selected.
func (c ConsumerConfig) IsBuiltin() bool { return c.Program == BuiltinConsumer }

// ConsumerOptions converts c into driver options. ExtraArgs is split with
// shell quoting rules.
func (c ConsumerConfig) ConsumerOptions() (consumer.Options, error) {
	extra, err := shell.Fields(c.ExtraArgs, nil)
	if err != nil {
		return consumer.Options{}, fmt.Errorf("consumer.extra_args: %w", err)
	}
	program := c.Program
	if c.IsBuiltin() {
		program = refconsumer.DefaultProgram
	}
	return consumer.Options{
		Program:    program,
		PrefixArgs: slices.Clone(c.PrefixArgs),
		CacheFlag:  c.CacheFlag,
		ExtraArgs:  extra,
		Identity:   c.Identity,
	}.WithDefaults(), nil
}

// ToScenario converts c into a scenario configuration and the runner to
// execute it with. The runner serves the builtin consumer in-process and
// hands every other command to next.
func (c *Config) ToScenario(next procexec.Runner, logger *log.Logger) (scenario.Config, procexec.Runner, error) {
	policy, err := c.Server.Policy.Policy()
	if err != nil {
		return scenario.Config{}, nil, err
	}
	opts, err := c.Consumer.ConsumerOptions()
	if err != nil {
		return scenario.Config{}, nil, err
	}
	opts.Logger = logger

	sc := scenario.Config{
		Owner:            c.Scenario.Owner,
		Name:             c.Scenario.Name,
		Versions:         slices.Clone(c.Scenario.Versions),
		Host:             c.Server.Host,
		Branch:           c.Scenario.Branch,
		CreateRepository: c.Scenario.CreateRepository,
		VerifyContent:    c.Scenario.VerifyContent,
		AutoCreate:       c.Server.AutoCreate,
		Policy:           policy,
		Consumer:         opts,
		GitBinary:        c.Server.GitBinary,
		Logger:           logger,
	}

	if next == nil {
		next = procexec.NewExecRunner(logger)
	}
	if !c.Consumer.IsBuiltin() {
		return sc, next, nil
	}
	mode, err := refconsumer.ParseMode(c.Consumer.Mode)
	if err != nil {
		return scenario.Config{}, nil, err
	}
	return sc, &refconsumer.Runner{Next: next, Program: opts.Program, Mode: mode, Logger: logger}, nil
}
