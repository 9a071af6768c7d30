// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// BuildState is the lifecycle state of an execution context.
type BuildState string

const (
	StatePending    BuildState = "PENDING"
	StateValidating BuildState = "VALIDATING"
	StateApproved   BuildState = "APPROVED"
	StateExecuting  BuildState = "EXECUTING"
	StatePaused     BuildState = "PAUSED"
	StateCompleted  BuildState = "COMPLETED"
	StateFailed     BuildState = "FAILED"
	StateAborted    BuildState = "ABORTED"
)

// Terminal reports whether the state ends the context lifecycle.
func (s BuildState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// ExecutionContext carries all mutable state for one active execution of a
// BuildPlan. Dry run defaults to true; live mode is an explicit opt-in.
type ExecutionContext struct {
	ContextID   string      `json:"context_id"`
	Plan        *BuildPlan  `json:"plan"`
	State       BuildState  `json:"state"`
	CurrentStep int         `json:"current_step"`
	DryRun      bool        `json:"dry_run"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Errors      []string    `json:"errors"`
	Warnings    []string    `json:"warnings"`
}

// AddError appends to the context's append-only error list.
func (c *ExecutionContext) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// AddWarning appends to the context's append-only warning list.
func (c *ExecutionContext) AddWarning(msg string) {
	c.Warnings = append(c.Warnings, msg)
}
