// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate implements the independent validator that brackets every
// execution. The gate runs a pre-execution battery before any step and a
// post-execution battery after the loop; either can reject the run, and the
// shared kill switch overrides any otherwise-approved outcome.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/types"
)

const (
	PhasePreExecution  = "pre_execution"
	PhasePostExecution = "post_execution"
)

// Gate is the independent validation authority. It owns no execution state;
// it inspects the context it is handed and keeps a history of every report
// it has issued.
type Gate struct {
	trustedRequester string
	auth             *pathauth.Authorizer
	killSwitch       *KillSwitch
	logger           *slog.Logger

	mu      sync.Mutex
	history []types.ValidationReport
}

// Status summarizes the gate for the outward audit surface.
type Status struct {
	KillSwitchActive bool    `json:"kill_switch_active"`
	KillSwitchReason string  `json:"kill_switch_reason,omitempty"`
	Validations      int     `json:"validations"`
	LastResult       string  `json:"last_result,omitempty"`
	LastConfidence   float64 `json:"last_confidence"`
}

// New builds a Gate bound to the shared kill switch.
func New(trustedRequester string, auth *pathauth.Authorizer, ks *KillSwitch) *Gate {
	return &Gate{
		trustedRequester: trustedRequester,
		auth:             auth,
		killSwitch:       ks,
		logger:           slog.Default(),
	}
}

// KillSwitch exposes the shared latch for privileged operations.
func (g *Gate) KillSwitch() *KillSwitch { return g.killSwitch }

// PreExecutionCheck validates a loaded context before any step runs. A scope
// path outside the authorized allowlist trips the kill switch, poisoning all
// future executions rather than just rejecting this plan.
func (g *Gate) PreExecutionCheck(ctx context.Context, ec *types.ExecutionContext) types.ValidationReport {
	b := newBattery(PhasePreExecution)
	plan := ec.Plan

	b.check("plan_id_present", plan.PlanID != "", "plan has no id", types.SeverityError)
	b.check("requester_identity", plan.RequestedBy == g.trustedRequester,
		fmt.Sprintf("requester %q is not trusted", plan.RequestedBy), types.SeverityError)

	violations := g.auth.Violations(plan.Scope.WritePaths)
	if len(violations) > 0 {
		g.killSwitch.Trigger("unauthorized_path_access")
	}
	b.check("write_paths_authorized", len(violations) == 0,
		fmt.Sprintf("%d unauthorized scope path(s)", len(violations)), types.SeverityError)

	b.check("steps_present", len(plan.Steps) > 0, "plan declares no steps", types.SeverityError)

	missing := 0
	for _, name := range types.RequiredArtifacts {
		if !plan.DeclaresArtifact(name) {
			missing++
		}
	}
	b.check("artifacts_declared", missing == 0,
		fmt.Sprintf("%d mandatory artifact(s) missing", missing), types.SeverityError)

	_, known := plan.GovernanceLevel.Threshold()
	b.check("governance_level_present", known,
		fmt.Sprintf("unknown governance level %q", plan.GovernanceLevel), types.SeverityError)

	if len(plan.ExecutionOrder) > 0 {
		b.check("execution_order_covers_steps", len(plan.ExecutionOrder) == len(plan.Steps),
			"execution_order does not list every step", types.SeverityWarning)
	}

	return g.finish(ctx, b, ec)
}

// PostExecutionCheck validates the outcome of the step loop. The touched-path
// check re-verifies every file a step reported against the allowlist, catching
// a step whose own re-check was somehow bypassed.
func (g *Gate) PostExecutionCheck(ctx context.Context, ec *types.ExecutionContext, results []types.StepResult) types.ValidationReport {
	b := newBattery(PhasePostExecution)
	total := len(ec.Plan.Steps)

	completed := 0
	failed := 0
	var touched []string
	for _, r := range results {
		switch r.Status {
		case types.StepCompleted:
			completed++
		case types.StepFailed:
			failed++
		}
		touched = append(touched, r.FilesAffected...)
	}

	b.check("steps_completed", completed == total,
		fmt.Sprintf("%d of %d steps completed", completed, total), types.SeverityError)
	b.check("step_failures_zero", failed == 0,
		fmt.Sprintf("%d step(s) failed", failed), types.SeverityError)
	b.check("context_errors_zero", len(ec.Errors) == 0,
		fmt.Sprintf("%d context error(s)", len(ec.Errors)), types.SeverityError)

	violations := g.auth.Violations(touched)
	b.check("touched_paths_authorized", len(violations) == 0,
		fmt.Sprintf("%d touched path(s) outside allowlist", len(violations)), types.SeverityError)

	threshold, _ := ec.Plan.GovernanceLevel.Threshold()
	ratio := 0.0
	if total > 0 {
		ratio = float64(completed) / float64(total)
	}
	b.check("confidence_threshold", ratio >= threshold,
		fmt.Sprintf("completion ratio %.3f below governance threshold %.2f", ratio, threshold), types.SeverityError)

	b.check("context_warnings", len(ec.Warnings) == 0,
		fmt.Sprintf("%d warning(s) recorded", len(ec.Warnings)), types.SeverityWarning)

	return g.finish(ctx, b, ec)
}

// History returns every report issued by this gate, oldest first.
func (g *Gate) History() []types.ValidationReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.ValidationReport, len(g.history))
	copy(out, g.history)
	return out
}

// GetStatus reports kill-switch state and a summary of the last validation.
func (g *Gate) GetStatus() Status {
	active, reason := g.killSwitch.State()
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{
		KillSwitchActive: active,
		KillSwitchReason: reason,
		Validations:      len(g.history),
	}
	if n := len(g.history); n > 0 {
		last := g.history[n-1]
		st.LastResult = string(last.Result)
		st.LastConfidence = last.Confidence
	}
	return st
}

// finish computes confidence and the overall result, consults the kill
// switch independently of the battery's own outcome, and records the report.
func (g *Gate) finish(_ context.Context, b *battery, ec *types.ExecutionContext) types.ValidationReport {
	report := b.report()

	ksActive, ksReason := g.killSwitch.State()
	report.KillSwitchTriggered = ksActive
	report.Approved = report.Approved && !ksActive
	if ksActive {
		report.Result = types.ValidationKillSwitch
		report.Reason = ksReason
	}

	g.mu.Lock()
	g.history = append(g.history, report)
	g.mu.Unlock()

	g.logger.Info("validation battery finished",
		slog.String("plan_id", ec.Plan.PlanID),
		slog.String("phase", report.Phase),
		slog.String("result", string(report.Result)),
		slog.Float64("confidence", report.Confidence),
		slog.Bool("approved", report.Approved),
	)
	return report
}

// battery accumulates checks for one validation phase.
type battery struct {
	phase  string
	checks []types.ValidationCheck
}

func newBattery(phase string) *battery {
	return &battery{phase: phase}
}

// check records one probe. The message is kept only on failure.
func (b *battery) check(name string, passed bool, failMessage string, sev types.CheckSeverity) {
	c := types.ValidationCheck{
		Name:      name,
		Passed:    passed,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	}
	if !passed {
		c.Message = failMessage
	}
	b.checks = append(b.checks, c)
}

func (b *battery) report() types.ValidationReport {
	passed := 0
	errorsOK := true
	warningsOK := true
	var reason string
	for _, c := range b.checks {
		if c.Passed {
			passed++
			continue
		}
		switch c.Severity {
		case types.SeverityError:
			errorsOK = false
			if reason == "" {
				reason = c.Name
			}
		default:
			warningsOK = false
		}
	}

	confidence := 0.0
	if len(b.checks) > 0 {
		confidence = float64(passed) / float64(len(b.checks))
	}

	result := types.ValidationApproved
	switch {
	case !errorsOK:
		result = types.ValidationRejected
	case !warningsOK:
		result = types.ValidationWarning
	}

	return types.ValidationReport{
		Phase:      b.phase,
		Result:     result,
		Checks:     b.checks,
		Confidence: confidence,
		Approved:   errorsOK,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
}
