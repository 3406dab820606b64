// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	GitNotFoundId Id = iota + 1
	HTTPBackendFailedId
	PortUnavailableId
	CloneFailedId
	MutationFailedId
	ConsumerNotFoundId
	InstallFailedId
	StaleInstallId
	CleanupFailedId
	ConfigLoadFailedId
)

type (
	// Id identifies a known issue.
	Id int

	// MarkdownMsg is the markdown body of an issue.
	MarkdownMsg string

	// Issue is a markdown explanation of a known failure.
	Issue struct {
		id    Id
		title string
		mdMsg MarkdownMsg
	}
)

// Id returns the issue's identifier.
func (i *Issue) Id() Id { return i.id }

// Title returns the one-line summary.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the unrendered body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Render renders the issue with a glamour style ("auto", "dark", "light",
// "notty" or a style file path).
func (i *Issue) Render(style string) (string, error) {
	return render("# "+i.title+"\n"+string(i.mdMsg), style)
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{
		GitNotFoundId: {
			id:    GitNotFoundId,
			title: "git is not installed",
			mdMsg: `
tagprobe drives the real ` + "`git`" + ` binary on both sides: ` + "`git http-backend`" + `
serves the repository and ` + "`git`" + ` commits, tags and pushes.

## Things you can try
- Install git and make sure it is on your PATH
- Point ` + "`server.git_binary`" + ` at a git executable`,
		},
		HTTPBackendFailedId: {
			id:    HTTPBackendFailedId,
			title: "the git server could not start",
			mdMsg: `
The ephemeral server binds a fresh local port and serves it with
` + "`git http-backend`" + `.

## Things you can try
- Check that ` + "`git --exec-path`" + ` contains git-http-backend
- Run with ` + "`--verbose`" + ` to see the bind error`,
		},
		PortUnavailableId: {
			id:    PortUnavailableId,
			title: "no local port is available",
			mdMsg: `
## Things you can try
- Check ` + "`server.host`" + ` names a local address
- Free some ephemeral ports and retry`,
		},
		CloneFailedId: {
			id:    CloneFailedId,
			title: "the scenario repository could not be cloned",
			mdMsg: `
## Things you can try
- Keep ` + "`scenario.create_repository`" + ` enabled, or enable ` + "`server.auto_create`" + `
- Run with ` + "`--verbose`" + ` to see git's output`,
		},
		MutationFailedId: {
			id:    MutationFailedId,
			title: "a version could not be published",
			mdMsg: `
Every round writes the package files, commits, tags ` + "`v<version>`" + ` and
pushes the branch before the tag. A policy may have rejected a push.

## Things you can try
- Check ` + "`server.policy`" + `
- Use tag-safe versions such as ` + "`1.2.3`",
		},
		ConsumerNotFoundId: {
			id:    ConsumerNotFoundId,
			title: "the consumer program was not found",
			mdMsg: `
## Things you can try
- Install the package manager under test, or set ` + "`consumer.program`" + `
- Use ` + "`consumer.program: \"builtin\"`" + ` to run the go-git reference consumer`,
		},
		InstallFailedId: {
			id:    InstallFailedId,
			title: "the consumer failed to install a tag",
			mdMsg: `
The consumer exited non-zero for a tag that exists on the server. A consumer
that caches a repository without refreshing its tags fails exactly here on the
second round.

## Things you can try
- Read the consumer output above
- Compare with ` + "`--consumer builtin --mode exact`",
		},
		StaleInstallId: {
			id:    StaleInstallId,
			title: "the consumer installed stale content",
			mdMsg: `
The install succeeded but the installed package is not the version the tag
points at. The consumer served an earlier round from its cache.`,
		},
		CleanupFailedId: {
			id:    CleanupFailedId,
			title: "cleanup left something behind",
			mdMsg: `
## Things you can try
- Remove the workspace directory named in the report
- Check for processes still holding files in it`,
		},
		ConfigLoadFailedId: {
			id:    ConfigLoadFailedId,
			title: "the configuration could not be loaded",
			mdMsg: `
## Things you can try
- Run ` + "`tagprobe config show`" + ` to see the effective configuration
- Run ` + "`tagprobe config schema`" + ` to see the accepted keys`,
		},
	}
)

// Get returns the issue for id, or nil.
func Get(id Id) *Issue { return issues[id] }

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return slices.Clone(out)
}
