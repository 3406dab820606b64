// SPDX-License-Identifier: MPL-2.0

// Package failure defines the error taxonomy shared by every step of a
// tagprobe scenario.
//
// Each step failure is a *StepError tagged with a Kind. The kind's sentinel
// (ErrClone, ErrInstall, ...) is reachable through errors.Is, and the
// underlying cause through errors.As. A scenario that failed and then also
// had trouble cleaning up reports a *ScenarioError, which always leads with
// the primary failure.
package failure
