// SPDX-License-Identifier: MPL-2.0

package gitserver

import (
	"context"
	"testing"
)

func TestOperationString(t *testing.T) {
	t.Parallel()

	want := map[Operation]string{
		OpPush:  "push",
		OpTag:   "tag",
		OpFetch: "fetch",
		OpInfo:  "info",
		OpHead:  "head",
		0:       "unknown",
	}
	for op, s := range want {
		if got := op.String(); got != s {
			t.Errorf("Operation(%d).String() = %q, want %q", int(op), got, s)
		}
	}
	if len(Operations()) != 5 {
		t.Errorf("Operations() has %d kinds, want 5", len(Operations()))
	}
}

func TestAcceptAll(t *testing.T) {
	t.Parallel()

	p := AcceptAll()
	for _, op := range Operations() {
		if d := p.Decide(context.Background(), Event{Op: op}); !d.Accepted {
			t.Errorf("AcceptAll rejected %s: %s", op, d.Reason)
		}
	}
}

func TestPolicyWith(t *testing.T) {
	t.Parallel()

	base := AcceptAll()
	p := base.With(OpTag, Reject("frozen"))

	if d := p.Decide(context.Background(), Event{Op: OpTag}); d.Accepted || d.Reason != "frozen" {
		t.Errorf("tag decision = %+v, want rejection with reason", d)
	}
	if d := p.Decide(context.Background(), Event{Op: OpPush}); !d.Accepted {
		t.Errorf("push should stay accepted, got %+v", d)
	}
	if d := base.Decide(context.Background(), Event{Op: OpTag}); !d.Accepted {
		t.Error("With must not modify the receiver")
	}
}

func TestPolicyMissingHandlerRejects(t *testing.T) {
	t.Parallel()

	p := Policy{Push: Accept}
	if p.empty() {
		t.Fatal("policy with one handler is not empty")
	}
	if d := p.Decide(context.Background(), Event{Op: OpFetch}); d.Accepted {
		t.Error("kind without handler should be rejected")
	}
	if !(Policy{}).empty() {
		t.Error("zero policy should be empty")
	}
}

func TestEventRepo(t *testing.T) {
	t.Parallel()

	if got := (Event{Owner: "john-doe", Name: "foo"}).Repo(); got != "john-doe/foo" {
		t.Errorf("Repo() = %q", got)
	}
}

func TestRequireKnownTargetDeletion(t *testing.T) {
	t.Parallel()

	d := RequireKnownTarget(context.Background(), Event{Op: OpTag, Ref: "refs/tags/v1", NewHash: zeroHash})
	if !d.Accepted {
		t.Errorf("deleting a ref should be accepted, got %+v", d)
	}
}
