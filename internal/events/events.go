// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries the engine's audit events: plan loads, state
// transitions, validation outcomes, step results, and run completion.
package events

import (
	"time"

	"github.com/buildd-org/buildd/internal/types"
)

const (
	TypePlanLoaded  = "plan.loaded"
	TypeStateChange = "state.change"
	TypeValidation  = "validation.report"
	TypeStepStart   = "step.start"
	TypeStepFinish  = "step.finish"
	TypeRunFinish   = "run.finish"
)

// Event is one audit record. Sequence numbers are assigned per sink.
type Event struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	PlanID    string         `json:"plan_id"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink consumes audit events.
type Sink interface {
	Emit(ev Event)
}

// PlanLoaded records a successful plan load with its correlation hash.
func PlanLoaded(planID, planHash string) Event {
	return Event{
		Type:   TypePlanLoaded,
		PlanID: planID,
		Data:   map[string]any{"plan_hash": planHash},
	}
}

// StateChange records a context state transition. Reason is optional and
// carries abort/pause causes.
func StateChange(planID string, from, to types.BuildState, reason string) Event {
	return Event{
		Type:    TypeStateChange,
		PlanID:  planID,
		Message: reason,
		Data:    map[string]any{"from": string(from), "to": string(to)},
	}
}

// Validation records a gate report outcome.
func Validation(planID string, report types.ValidationReport) Event {
	return Event{
		Type:   TypeValidation,
		PlanID: planID,
		Data: map[string]any{
			"phase":       report.Phase,
			"result":      string(report.Result),
			"confidence":  report.Confidence,
			"approved":    report.Approved,
			"kill_switch": report.KillSwitchTriggered,
		},
	}
}

// StepStart records entry into a step.
func StepStart(planID, stepID string) Event {
	return Event{Type: TypeStepStart, PlanID: planID, Step: stepID}
}

// StepFinish records a step result.
func StepFinish(planID string, result types.StepResult) Event {
	data := map[string]any{
		"action":  string(result.Action),
		"status":  string(result.Status),
		"dry_run": result.DryRun,
		"files":   len(result.FilesAffected),
	}
	return Event{
		Type:    TypeStepFinish,
		PlanID:  planID,
		Step:    result.StepID,
		Message: result.Error,
		Data:    data,
	}
}

// RunFinish records the terminal outcome of an execution.
func RunFinish(planID string, state types.BuildState, success, dryRun bool, errs int) Event {
	return Event{
		Type:   TypeRunFinish,
		PlanID: planID,
		Data: map[string]any{
			"state":   string(state),
			"success": success,
			"dry_run": dryRun,
			"errors":  errs,
		},
	}
}
