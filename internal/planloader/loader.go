// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planloader parses build-plan documents and validates them against
// the engine's authorization rules. Validation is a batch contract: every
// violation found is reported, not just the first.
package planloader

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/types"
)

// PlanInvalidError carries every violation found while validating a plan.
type PlanInvalidError struct {
	PlanID     string
	Violations []string
}

func (e *PlanInvalidError) Error() string {
	return fmt.Sprintf("plan %q invalid: %s", e.PlanID, strings.Join(e.Violations, "; "))
}

// Parse decodes a plan document. YAML is a superset of JSON, so both formats
// are accepted.
func Parse(doc []byte) (*types.BuildPlan, error) {
	var plan types.BuildPlan
	if err := yaml.Unmarshal(doc, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// Validate runs the full load-time battery and returns a PlanInvalidError
// listing every violation, or nil when the plan is acceptable.
func Validate(plan *types.BuildPlan, auth *pathauth.Authorizer, trustedRequester string) error {
	var violations []string

	if plan.PlanID == "" {
		violations = append(violations, "plan_id is required")
	}
	if plan.RequestedBy != trustedRequester {
		violations = append(violations, fmt.Sprintf("requested_by %q is not the trusted requester", plan.RequestedBy))
	}
	violations = append(violations, auth.Violations(plan.Scope.WritePaths)...)
	if len(plan.Steps) == 0 {
		violations = append(violations, "plan declares no steps")
	}
	for _, name := range types.RequiredArtifacts {
		if !plan.DeclaresArtifact(name) {
			violations = append(violations, fmt.Sprintf("mandatory artifact %q not declared", name))
		}
	}
	if plan.Constraints == nil {
		violations = append(violations, "constraints metadata is required")
	}
	if plan.RiskAssessment == nil {
		violations = append(violations, "risk_assessment metadata is required")
	}
	if plan.ValidationRequirements == nil {
		violations = append(violations, "validation_requirements metadata is required")
	}
	for _, id := range plan.ExecutionOrder {
		if _, ok := plan.StepByID(id); !ok {
			violations = append(violations, fmt.Sprintf("execution_order references unknown step %q", id))
		}
	}

	if len(violations) > 0 {
		return &PlanInvalidError{PlanID: plan.PlanID, Violations: violations}
	}
	return nil
}

// OrderedSteps returns the plan's steps in execution order: the explicit
// execution_order when present, declaration order otherwise. Declared step
// dependencies are informational and never consulted.
func OrderedSteps(plan *types.BuildPlan) []types.Step {
	if len(plan.ExecutionOrder) == 0 {
		out := make([]types.Step, len(plan.Steps))
		copy(out, plan.Steps)
		return out
	}
	out := make([]types.Step, 0, len(plan.ExecutionOrder))
	for _, id := range plan.ExecutionOrder {
		if s, ok := plan.StepByID(id); ok {
			out = append(out, s)
		}
	}
	return out
}
