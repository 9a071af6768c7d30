// SPDX-License-Identifier: AGPL-3.0-or-later
package gate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/types"
)

const trusted = "architect"

func testPlan() *types.BuildPlan {
	return &types.BuildPlan{
		PlanID:          "plan-g1",
		RequestedBy:     trusted,
		GovernanceLevel: types.GovernanceMedium,
		Scope:           types.Scope{WritePaths: []string{"generated/"}},
		Steps: []types.Step{
			{StepID: "s1", Action: types.ActionCreate, Files: []string{"generated/a.txt"}, Content: "x"},
			{StepID: "s2", Action: types.ActionModify, Files: []string{"generated/a.txt"}, Content: "y"},
			{StepID: "s3", Action: types.ActionDelete, Files: []string{"generated/a.txt"}},
		},
		Artifacts: []string{"plan_record", "execution_log", "diff_manifest", "validation_report"},
	}
}

func newTestGate() *Gate {
	return New(trusted, pathauth.New(nil, nil), NewKillSwitch("reset-me"))
}

func completedResults(plan *types.BuildPlan) []types.StepResult {
	out := make([]types.StepResult, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		out = append(out, types.StepResult{
			StepID:        s.StepID,
			Action:        s.Action,
			Status:        types.StepCompleted,
			FilesAffected: s.Files,
		})
	}
	return out
}

func TestPreExecutionApprovesValidPlan(t *testing.T) {
	g := newTestGate()
	ec := &types.ExecutionContext{Plan: testPlan(), State: types.StateValidating}

	report := g.PreExecutionCheck(context.Background(), ec)
	if !report.Approved || report.Result != types.ValidationApproved {
		t.Fatalf("expected approval, got %+v", report)
	}
	if report.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %f", report.Confidence)
	}
	if active, _ := g.KillSwitch().State(); active {
		t.Fatalf("kill switch must stay inactive for a clean plan")
	}
}

func TestPreExecutionRejectsUntrustedRequester(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	plan.RequestedBy = "impostor"
	ec := &types.ExecutionContext{Plan: plan, State: types.StateValidating}

	report := g.PreExecutionCheck(context.Background(), ec)
	if report.Approved || report.Result != types.ValidationRejected {
		t.Fatalf("expected rejection, got %+v", report)
	}
	if report.Reason != "requester_identity" {
		t.Fatalf("expected requester_identity reason, got %q", report.Reason)
	}
	// An identity failure is a rejection, not a safety event.
	if active, _ := g.KillSwitch().State(); active {
		t.Fatalf("kill switch must not trip on identity failure")
	}
}

func TestScopeViolationTripsKillSwitch(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	plan.Scope.WritePaths = append(plan.Scope.WritePaths, "../etc/")
	ec := &types.ExecutionContext{Plan: plan, State: types.StateValidating}

	report := g.PreExecutionCheck(context.Background(), ec)
	if report.Approved {
		t.Fatalf("expected rejection, got %+v", report)
	}
	if report.Result != types.ValidationKillSwitch || !report.KillSwitchTriggered {
		t.Fatalf("expected kill switch result, got %+v", report)
	}
	active, reason := g.KillSwitch().State()
	if !active || reason != "unauthorized_path_access" {
		t.Fatalf("expected tripped switch, active=%v reason=%q", active, reason)
	}
}

func TestKillSwitchOverridesPassingChecks(t *testing.T) {
	g := newTestGate()
	g.KillSwitch().Trigger("manual_stop")
	ec := &types.ExecutionContext{Plan: testPlan(), State: types.StateValidating}

	report := g.PreExecutionCheck(context.Background(), ec)
	if report.Approved {
		t.Fatalf("tripped switch must veto approval")
	}
	if report.Result != types.ValidationKillSwitch || report.Reason != "manual_stop" {
		t.Fatalf("expected kill switch override, got %+v", report)
	}
	// Individual checks all passed; only the latch vetoed.
	for _, c := range report.Checks {
		if !c.Passed {
			t.Fatalf("check %s unexpectedly failed", c.Name)
		}
	}
}

func TestKillSwitchReset(t *testing.T) {
	ks := NewKillSwitch("sesame")
	ks.Trigger("first_reason")
	ks.Trigger("second_reason")

	if _, reason := ks.State(); reason != "first_reason" {
		t.Fatalf("trigger must keep the first reason, got %q", reason)
	}
	if err := ks.Reset("wrong"); err == nil {
		t.Fatalf("wrong code must be rejected")
	}
	if active, _ := ks.State(); !active {
		t.Fatalf("failed reset must leave the latch active")
	}
	if err := ks.Reset("sesame"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if active, _ := ks.State(); active {
		t.Fatalf("expected latch cleared")
	}
}

func TestKillSwitchWithoutCodeNeverResets(t *testing.T) {
	ks := NewKillSwitch("")
	ks.Trigger("stop")
	if err := ks.Reset(""); err == nil {
		t.Fatalf("reset must be disabled without a configured code")
	}
}

func TestPersistentKillSwitchSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "killswitch.json")

	ks, err := NewPersistentKillSwitch(statePath, "sesame")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ks.Trigger("unauthorized_path_access")

	again, err := NewPersistentKillSwitch(statePath, "sesame")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	active, reason := again.State()
	if !active || reason != "unauthorized_path_access" {
		t.Fatalf("expected persisted state, active=%v reason=%q", active, reason)
	}

	if err := again.Reset("sesame"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	third, err := NewPersistentKillSwitch(statePath, "sesame")
	if err != nil {
		t.Fatalf("reload after reset: %v", err)
	}
	if active, _ := third.State(); active {
		t.Fatalf("reset must persist too")
	}
}

func TestPostExecutionApprovesCleanRun(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	ec := &types.ExecutionContext{Plan: plan, State: types.StateExecuting}

	report := g.PostExecutionCheck(context.Background(), ec, completedResults(plan))
	if !report.Approved || report.Result != types.ValidationApproved {
		t.Fatalf("expected approval, got %+v", report)
	}
}

func TestPostExecutionHighGovernanceRejectsPartialCompletion(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	plan.GovernanceLevel = types.GovernanceHigh // threshold 0.85
	ec := &types.ExecutionContext{Plan: plan, State: types.StateExecuting}

	results := completedResults(plan)
	results[2].Status = types.StepFailed
	results[2].FilesAffected = nil
	results[2].Error = "boom"

	report := g.PostExecutionCheck(context.Background(), ec, results)
	if report.Approved {
		t.Fatalf("2/3 completion must fail a 0.85 threshold")
	}
	found := false
	for _, c := range report.Checks {
		if c.Name == "confidence_threshold" && !c.Passed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected confidence_threshold failure in %+v", report.Checks)
	}
}

func TestPostExecutionWarningsDowngradeNotReject(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	ec := &types.ExecutionContext{Plan: plan, State: types.StateExecuting}
	ec.AddWarning("minor drift")

	report := g.PostExecutionCheck(context.Background(), ec, completedResults(plan))
	if !report.Approved {
		t.Fatalf("warnings alone must not reject: %+v", report)
	}
	if report.Result != types.ValidationWarning {
		t.Fatalf("expected WARNING result, got %s", report.Result)
	}
	if report.Confidence >= 1.0 {
		t.Fatalf("a failed warning check must lower confidence, got %f", report.Confidence)
	}
}

func TestPostExecutionFlagsUnauthorizedTouchedPaths(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	ec := &types.ExecutionContext{Plan: plan, State: types.StateExecuting}

	results := completedResults(plan)
	results[0].FilesAffected = []string{"secrets/key.pem"}

	report := g.PostExecutionCheck(context.Background(), ec, results)
	if report.Approved {
		t.Fatalf("touched path outside allowlist must reject")
	}
	// Post-execution detection audits; it does not latch the switch.
	if active, _ := g.KillSwitch().State(); active {
		t.Fatalf("post-execution violation must not trip the kill switch")
	}
}

func TestHistoryAndStatus(t *testing.T) {
	g := newTestGate()
	plan := testPlan()
	ec := &types.ExecutionContext{Plan: plan, State: types.StateValidating}

	g.PreExecutionCheck(context.Background(), ec)
	g.PostExecutionCheck(context.Background(), ec, completedResults(plan))

	hist := g.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(hist))
	}
	if hist[0].Phase != PhasePreExecution || hist[1].Phase != PhasePostExecution {
		t.Fatalf("unexpected phases: %s %s", hist[0].Phase, hist[1].Phase)
	}

	st := g.GetStatus()
	if st.Validations != 2 || st.KillSwitchActive {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.LastResult != string(types.ValidationApproved) {
		t.Fatalf("unexpected last result: %q", st.LastResult)
	}
}
