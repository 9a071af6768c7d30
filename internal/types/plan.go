// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GovernanceLevel names the minimum acceptable completion ratio for a plan.
type GovernanceLevel string

const (
	GovernanceLow      GovernanceLevel = "low"
	GovernanceMedium   GovernanceLevel = "medium"
	GovernanceHigh     GovernanceLevel = "high"
	GovernanceCritical GovernanceLevel = "critical"
)

// Threshold maps a governance level to its completion-ratio floor.
func (g GovernanceLevel) Threshold() (float64, bool) {
	switch g {
	case GovernanceLow:
		return 0.50, true
	case GovernanceMedium:
		return 0.70, true
	case GovernanceHigh:
		return 0.85, true
	case GovernanceCritical:
		return 0.95, true
	default:
		return 0, false
	}
}

// StepAction is the closed set of operations a step may perform.
type StepAction string

const (
	ActionCreate StepAction = "create"
	ActionModify StepAction = "modify"
	ActionDelete StepAction = "delete"
)

// Known reports whether the action is one of the supported variants.
func (a StepAction) Known() bool {
	switch a {
	case ActionCreate, ActionModify, ActionDelete:
		return true
	default:
		return false
	}
}

// RequiredArtifacts lists the artifact names every plan must declare.
var RequiredArtifacts = [...]string{
	"plan_record",
	"execution_log",
	"diff_manifest",
	"validation_report",
}

// Scope declares the path prefixes a plan claims it will touch.
type Scope struct {
	WritePaths []string `json:"write_paths" yaml:"write_paths"`
}

// Step is one atomic create/modify/delete action within a plan.
// Dependencies are carried for audit purposes only; ordering is strict
// declaration order (or the plan's execution_order).
type Step struct {
	StepID         string     `json:"step_id" yaml:"step_id"`
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	Action         StepAction `json:"action" yaml:"action"`
	Files          []string   `json:"files" yaml:"files"`
	Content        string     `json:"content,omitempty" yaml:"content,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ValidationGate string     `json:"validation_gate,omitempty" yaml:"validation_gate,omitempty"`
}

// BuildPlan is the immutable description of a requested change set and its
// governance metadata. Once wrapped in an ExecutionContext it is never
// mutated; all execution state lives in the context.
type BuildPlan struct {
	PlanID                 string          `json:"plan_id" yaml:"plan_id"`
	RequestedBy            string          `json:"requested_by" yaml:"requested_by"`
	IntentSummary          string          `json:"intent_summary,omitempty" yaml:"intent_summary,omitempty"`
	GovernanceLevel        GovernanceLevel `json:"governance_level" yaml:"governance_level"`
	Scope                  Scope           `json:"scope" yaml:"scope"`
	Architecture           string          `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Steps                  []Step          `json:"steps" yaml:"steps"`
	Constraints            any             `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	RiskAssessment         any             `json:"risk_assessment,omitempty" yaml:"risk_assessment,omitempty"`
	ValidationRequirements any             `json:"validation_requirements,omitempty" yaml:"validation_requirements,omitempty"`
	Artifacts              []string        `json:"artifacts" yaml:"artifacts"`
	ExecutionOrder         []string        `json:"execution_order,omitempty" yaml:"execution_order,omitempty"`
	LiveExecutionRequires  []string        `json:"live_execution_requires,omitempty" yaml:"live_execution_requires,omitempty"`
}

// Hash returns a short deterministic digest used for audit correlation.
// It covers identity and shape, not content integrity.
func (p *BuildPlan) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", p.PlanID, p.IntentSummary, len(p.Steps))))
	return hex.EncodeToString(sum[:])[:12]
}

// StepByID returns the step with the given id.
func (p *BuildPlan) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return Step{}, false
}

// DeclaresArtifact reports whether the plan declares the named artifact.
func (p *BuildPlan) DeclaresArtifact(name string) bool {
	for _, a := range p.Artifacts {
		if a == name {
			return true
		}
	}
	return false
}
