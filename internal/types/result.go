// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// StepStatus is the outcome state of a single step execution.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepExecuting StepStatus = "EXECUTING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// StepResult records the outcome of one step. The DryRun field reflects the
// effective mode at call time, never the plan's declared mode.
type StepResult struct {
	StepID        string     `json:"step_id"`
	Action        StepAction `json:"action"`
	Status        StepStatus `json:"status"`
	FilesAffected []string   `json:"files_affected,omitempty"`
	Diff          string     `json:"diff,omitempty"`
	Error         string     `json:"error,omitempty"`
	DryRun        bool       `json:"dry_run"`
	Timestamp     time.Time  `json:"timestamp"`
}
