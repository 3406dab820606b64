// SPDX-License-Identifier: MPL-2.0

package gitserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// OpPush is an update of a branch (or any non-tag ref) via receive-pack.
	OpPush Operation = iota + 1
	// OpTag is an update of a refs/tags/* ref via receive-pack.
	OpTag
	// OpFetch is an upload-pack request or a dumb-protocol object read.
	OpFetch
	// OpInfo is a ref advertisement (GET info/refs).
	OpInfo
	// OpHead is a read of the repository's HEAD.
	OpHead
)

type (
	// Operation is the kind of a git request.
	Operation int

	// Event describes one operation a client asked for.
	Event struct {
		Op    Operation
		Owner string
		Name  string
		// Dir is the bare repository on disk. It may not exist yet for Info.
		Dir string
		// Ref, OldHash and NewHash are set for OpPush and OpTag.
		Ref     string
		OldHash string
		NewHash string
	}

	// Decision is a handler's verdict on an Event.
	Decision struct {
		Accepted bool
		Reason   string
	}

	// Handler decides whether an operation may proceed.
	Handler func(ctx context.Context, ev Event) Decision

	// Policy holds one handler per operation kind. A kind without a handler
	// is rejected.
	Policy struct {
		Push  Handler
		Tag   Handler
		Fetch Handler
		Info  Handler
		Head  Handler
	}

	// Record is an Event with the decision it received.
	Record struct {
		Event
		Decision
	}
)

// Operations lists every operation kind in a stable order.
func Operations() []Operation {
	return []Operation{OpPush, OpTag, OpFetch, OpInfo, OpHead}
}

// String returns the lower-case operation name.
func (o Operation) String() string {
	switch o {
	case OpPush:
		return "push"
	case OpTag:
		return "tag"
	case OpFetch:
		return "fetch"
	case OpInfo:
		return "info"
	case OpHead:
		return "head"
	default:
		return "unknown"
	}
}

// Repo returns "owner/name".
func (e Event) Repo() string { return e.Owner + "/" + e.Name }

// Accept is the unconditional accept handler.
func Accept(context.Context, Event) Decision {
	return Decision{Accepted: true}
}

// Reject returns a handler that refuses every event with reason.
func Reject(reason string) Handler {
	return func(context.Context, Event) Decision {
		return Decision{Reason: reason}
	}
}

// AcceptAll returns a policy that accepts every operation kind.
func AcceptAll() Policy {
	return Policy{Push: Accept, Tag: Accept, Fetch: Accept, Info: Accept, Head: Accept}
}

// With returns a copy of p whose handler for op is h.
func (p Policy) With(op Operation, h Handler) Policy {
	switch op {
	case OpPush:
		p.Push = h
	case OpTag:
		p.Tag = h
	case OpFetch:
		p.Fetch = h
	case OpInfo:
		p.Info = h
	case OpHead:
		p.Head = h
	}
	return p
}

// Handler returns the handler installed for op, or nil.
func (p Policy) Handler(op Operation) Handler {
	switch op {
	case OpPush:
		return p.Push
	case OpTag:
		return p.Tag
	case OpFetch:
		return p.Fetch
	case OpInfo:
		return p.Info
	case OpHead:
		return p.Head
	default:
		return nil
	}
}

func (p Policy) empty() bool {
	for _, op := range Operations() {
		if p.Handler(op) != nil {
			return false
		}
	}
	return true
}

// Decide dispatches ev to the handler for its kind.
func (p Policy) Decide(ctx context.Context, ev Event) Decision {
	h := p.Handler(ev.Op)
	if h == nil {
		return Decision{Reason: fmt.Sprintf("no handler for %s", ev.Op)}
	}
	return h(ctx, ev)
}

// RequireKnownTarget accepts a ref update only if the object it points at
// is already stored on the server. Installed for OpTag it turns a tag pushed
// ahead of its branch into a rejected push. Only lightweight tags can pass:
// an annotated tag object travels in the same pack and is never known yet.
func RequireKnownTarget(_ context.Context, ev Event) Decision {
	if ev.NewHash == "" || plumbing.NewHash(ev.NewHash).IsZero() {
		return Decision{Accepted: true}
	}
	repo, err := git.PlainOpen(ev.Dir)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("open repository: %v", err)}
	}
	_, err = repo.Storer.EncodedObject(plumbing.AnyObject, plumbing.NewHash(ev.NewHash))
	switch {
	case err == nil:
		return Decision{Accepted: true}
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return Decision{Reason: fmt.Sprintf("%s points at %s, which the server does not have; push the branch first", ev.Ref, ev.NewHash)}
	default:
		return Decision{Reason: fmt.Sprintf("look up %s: %v", ev.NewHash, err)}
	}
}
