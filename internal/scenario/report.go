// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"errors"
	"time"

	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/gitserver"
)

// ErrStaleInstall is wrapped when an install's content does not match the
// round it was asked for.
var ErrStaleInstall = errors.New("installed content does not match the requested tag")

type (
	// Report is the record of one scenario run.
	Report struct {
		RunID      string        `json:"run_id" yaml:"run_id"`
		Repository string        `json:"repository" yaml:"repository"`
		Started    time.Time     `json:"started" yaml:"started"`
		Duration   time.Duration `json:"duration" yaml:"duration"`
		Workspace  string        `json:"workspace,omitempty" yaml:"workspace,omitempty"`
		Port       int           `json:"port,omitempty" yaml:"port,omitempty"`
		BaseURL    string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
		Steps      []Step        `json:"steps" yaml:"steps"`
		Rounds     []Round       `json:"rounds" yaml:"rounds"`
		Events     []Event       `json:"events,omitempty" yaml:"events,omitempty"`
		Cleanup    []Step        `json:"cleanup" yaml:"cleanup"`
		Passed     bool          `json:"passed" yaml:"passed"`
		// Failure is the taxonomy name of the primary failure.
		Failure string `json:"failure,omitempty" yaml:"failure,omitempty"`
		Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	}

	// Step is one timed scenario step.
	Step struct {
		Name     string        `json:"name" yaml:"name"`
		Duration time.Duration `json:"duration" yaml:"duration"`
		Failure  string        `json:"failure,omitempty" yaml:"failure,omitempty"`
		Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	}

	// Round is one published version and what the consumer made of it.
	Round struct {
		Version string `json:"version" yaml:"version"`
		Tag     string `json:"tag" yaml:"tag"`
		// Commit is the client-side commit the tag was created on.
		Commit string `json:"commit" yaml:"commit"`
		// ServerCommit is what the tag resolves to on the server.
		ServerCommit     string `json:"server_commit,omitempty" yaml:"server_commit,omitempty"`
		Specifier        string `json:"specifier" yaml:"specifier"`
		Installed        bool   `json:"installed" yaml:"installed"`
		InstalledVersion string `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
		Verified         bool   `json:"verified" yaml:"verified"`
	}

	// Event is a server policy decision.
	Event struct {
		Op       string `json:"op" yaml:"op"`
		Ref      string `json:"ref,omitempty" yaml:"ref,omitempty"`
		NewHash  string `json:"new_hash,omitempty" yaml:"new_hash,omitempty"`
		Accepted bool   `json:"accepted" yaml:"accepted"`
		Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	}
)

func newStep(name string, d time.Duration, err error) Step {
	s := Step{Name: name, Duration: d}
	if err != nil {
		s.Error = err.Error()
		if k := failure.KindOf(err); k != 0 {
			s.Failure = k.String()
		}
	}
	return s
}

func eventsOf(records []gitserver.Record) []Event {
	out := make([]Event, 0, len(records))
	for _, r := range records {
		out = append(out, Event{
			Op:       r.Op.String(),
			Ref:      r.Ref,
			NewHash:  r.NewHash,
			Accepted: r.Accepted,
			Reason:   r.Reason,
		})
	}
	return out
}

func (r *Report) finish(err error) {
	r.Duration = time.Since(r.Started)
	r.Passed = err == nil
	if err == nil {
		return
	}
	r.Error = err.Error()
	if k := failure.KindOf(err); k != 0 {
		r.Failure = k.String()
	}
}

// FailedStep returns the first step that failed, or nil.
func (r *Report) FailedStep() *Step {
	for i := range r.Steps {
		if r.Steps[i].Error != "" {
			return &r.Steps[i]
		}
	}
	return nil
}
