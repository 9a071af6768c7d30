// SPDX-License-Identifier: AGPL-3.0-or-later
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/buildd-org/buildd/internal/executor"
	"github.com/buildd-org/buildd/internal/gate"
	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/planloader"
	"github.com/buildd-org/buildd/internal/store"
	"github.com/buildd-org/buildd/internal/types"
)

const trusted = "architect"

// harness wires a full in-memory engine for lifecycle tests.
type harness struct {
	orch  *Orchestrator
	store *store.Memory
	gate  *gate.Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := store.NewMemory()
	auth := pathauth.New(nil, nil)
	g := gate.New(trusted, auth, gate.NewKillSwitch("sesame"))
	orch, err := New(Config{
		Executor:         executor.New(m, auth),
		Gate:             g,
		Authorizer:       auth,
		TrustedRequester: trusted,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{orch: orch, store: m, gate: g}
}

// planDoc serializes a well-formed plan whose steps create the given files.
func planDoc(t *testing.T, planID string, files ...string) []byte {
	t.Helper()
	plan := &types.BuildPlan{
		PlanID:                 planID,
		RequestedBy:            trusted,
		IntentSummary:          "test plan",
		GovernanceLevel:        types.GovernanceMedium,
		Scope:                  types.Scope{WritePaths: []string{"generated/"}},
		Constraints:            map[string]any{"language": "go"},
		RiskAssessment:         "low",
		ValidationRequirements: []any{"review"},
		Artifacts:              []string{"plan_record", "execution_log", "diff_manifest", "validation_report"},
	}
	for i, f := range files {
		plan.Steps = append(plan.Steps, types.Step{
			StepID:  fmt.Sprintf("s%d", i+1),
			Action:  types.ActionCreate,
			Files:   []string{f},
			Content: "content\n",
		})
	}
	doc, err := yaml.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return doc
}

func TestDryRunLifecycleCompletes(t *testing.T) {
	h := newHarness(t)
	ec, err := h.orch.LoadPlan(planDoc(t, "plan-dry", "generated/a.txt", "generated/b.txt"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ec.State != types.StatePending || !ec.DryRun {
		t.Fatalf("loaded context must be PENDING with dry run on, got %+v", ec)
	}

	res, err := h.orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || !res.DryRun || res.StepsExecuted != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st := h.orch.GetStatus(); st.State != types.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", st.State)
	}
	if h.store.Len() != 0 {
		t.Fatalf("dry run must not touch the store: %v", h.store.Paths())
	}
	if hist := h.orch.GetValidationHistory(); len(hist) != 2 {
		t.Fatalf("expected pre and post reports, got %d", len(hist))
	}

	log := h.orch.GetExecutionLog()
	seen := map[string]bool{}
	for _, e := range log {
		seen[e.Event] = true
	}
	for _, want := range []string{"plan.loaded", "state.change", "step.start", "step.finish", "validation.report", "run.finish"} {
		if !seen[want] {
			t.Fatalf("execution log missing %s events: %v", want, seen)
		}
	}
}

func TestLiveExecutionWritesStore(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.LoadPlan(planDoc(t, "plan-live", "generated/a.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.orch.SetDryRun(false); err != nil {
		t.Fatalf("set live: %v", err)
	}

	res, err := h.orch.Execute(context.Background())
	if err != nil || !res.Success {
		t.Fatalf("execute: %v result=%+v", err, res)
	}
	if _, exists, _ := h.store.Get(context.Background(), "generated/a.txt"); !exists {
		t.Fatalf("live run must write the store")
	}
}

func TestDryRunFailSoftRunsAllSteps(t *testing.T) {
	h := newHarness(t)
	// The middle step targets a path outside the allowlist; the plan itself
	// loads because only scope paths are checked at load time.
	doc := planDoc(t, "plan-soft", "generated/a.txt", "src/evil.go", "generated/c.txt")
	if _, err := h.orch.LoadPlan(doc); err != nil {
		t.Fatalf("load: %v", err)
	}

	res, err := h.orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.StepsExecuted != 3 {
		t.Fatalf("dry run must continue past failures, executed %d", res.StepsExecuted)
	}
	if res.Success {
		t.Fatalf("run with a failed step must not succeed")
	}
	if st := h.orch.GetStatus(); st.State != types.StateFailed {
		t.Fatalf("expected FAILED from post-execution gate, got %s", st.State)
	}
}

func TestLiveFailFastStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	doc := planDoc(t, "plan-fast", "generated/a.txt", "src/evil.go", "generated/c.txt")
	if _, err := h.orch.LoadPlan(doc); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.orch.SetDryRun(false); err != nil {
		t.Fatalf("set live: %v", err)
	}

	res, err := h.orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.StepsExecuted != 2 {
		t.Fatalf("live mode must stop at the failed step, executed %d", res.StepsExecuted)
	}
	if res.Success {
		t.Fatalf("failed live run must not succeed")
	}
	// The step before the failure still landed.
	if _, exists, _ := h.store.Get(context.Background(), "generated/a.txt"); !exists {
		t.Fatalf("completed steps before the failure must persist")
	}
	if _, exists, _ := h.store.Get(context.Background(), "generated/c.txt"); exists {
		t.Fatalf("steps after the failure must not run")
	}
}

func TestTrippedKillSwitchAbortsBeforeAnyStep(t *testing.T) {
	h := newHarness(t)
	h.gate.KillSwitch().Trigger("manual_stop")
	if _, err := h.orch.LoadPlan(planDoc(t, "plan-ks", "generated/a.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}

	res, err := h.orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || res.StepsExecuted != 0 {
		t.Fatalf("tripped switch must block all steps: %+v", res)
	}
	if !res.KillSwitchTriggered {
		t.Fatalf("result must surface the kill switch")
	}
	if st := h.orch.GetStatus(); st.State != types.StateAborted {
		t.Fatalf("expected ABORTED, got %s", st.State)
	}
}

func TestLoadPlanReportsAllViolations(t *testing.T) {
	h := newHarness(t)
	plan := &types.BuildPlan{
		PlanID:      "",
		RequestedBy: "impostor",
		Steps:       nil,
	}
	doc, _ := yaml.Marshal(plan)

	_, err := h.orch.LoadPlan(doc)
	var invalid *planloader.PlanInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected PlanInvalidError, got %v", err)
	}
	if len(invalid.Violations) < 3 {
		t.Fatalf("expected batch violations, got %v", invalid.Violations)
	}
}

func TestSetDryRunOnlyBeforeExecution(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.SetDryRun(false); err == nil {
		t.Fatalf("expected error with no plan loaded")
	}
	if _, err := h.orch.LoadPlan(planDoc(t, "plan-mode", "generated/a.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := h.orch.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := h.orch.SetDryRun(false); err == nil || !strings.Contains(err.Error(), "cannot change mode") {
		t.Fatalf("expected mode change rejection, got %v", err)
	}
}

func TestAbortBeforeExecution(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.LoadPlan(planDoc(t, "plan-abort", "generated/a.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.orch.Abort("operator_stop"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if st := h.orch.GetStatus(); st.State != types.StateAborted {
		t.Fatalf("expected ABORTED, got %s", st.State)
	}
	if _, err := h.orch.Execute(context.Background()); err == nil {
		t.Fatalf("execute from terminal state must error")
	}
	if err := h.orch.Abort("again"); err == nil {
		t.Fatalf("abort from terminal state must error")
	}
}

// blockingExecutor hands control to the test at the start of every step.
type blockingExecutor struct {
	inner   StepExecutor
	started chan string
	release chan struct{}
}

func (b *blockingExecutor) ExecuteStep(ctx context.Context, step types.Step, ec *types.ExecutionContext, dryRun bool) (types.StepResult, error) {
	b.started <- step.StepID
	<-b.release
	return b.inner.ExecuteStep(ctx, step, ec, dryRun)
}

func newBlockingHarness(t *testing.T) (*Orchestrator, *blockingExecutor) {
	t.Helper()
	m := store.NewMemory()
	auth := pathauth.New(nil, nil)
	be := &blockingExecutor{
		inner:   executor.New(m, auth),
		started: make(chan string),
		release: make(chan struct{}),
	}
	orch, err := New(Config{
		Executor:         be,
		Gate:             gate.New(trusted, auth, gate.NewKillSwitch("")),
		Authorizer:       auth,
		TrustedRequester: trusted,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, be
}

func TestPauseAndResume(t *testing.T) {
	orch, be := newBlockingHarness(t)
	if _, err := orch.LoadPlan(planDoc(t, "plan-pause", "generated/a.txt", "generated/b.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan Result, 1)
	go func() {
		res, _ := orch.Execute(context.Background())
		done <- res
	}()

	<-be.started // step 1 in flight
	if err := orch.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	be.release <- struct{}{} // step 1 finishes; the loop parks before step 2

	if st := orch.GetStatus(); st.State != types.StatePaused {
		t.Fatalf("expected PAUSED, got %s", st.State)
	}
	select {
	case id := <-be.started:
		t.Fatalf("step %s started while paused", id)
	default:
	}

	if err := orch.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if id := <-be.started; id != "s2" {
		t.Fatalf("expected s2 after resume, got %s", id)
	}
	be.release <- struct{}{}

	res := <-done
	if !res.Success || res.StepsExecuted != 2 {
		t.Fatalf("unexpected result after resume: %+v", res)
	}
	if err := orch.Pause(); err == nil {
		t.Fatalf("pause after completion must error")
	}
}

func TestAbortStopsAtStepBoundary(t *testing.T) {
	orch, be := newBlockingHarness(t)
	if _, err := orch.LoadPlan(planDoc(t, "plan-stop", "generated/a.txt", "generated/b.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan Result, 1)
	go func() {
		res, _ := orch.Execute(context.Background())
		done <- res
	}()

	<-be.started // step 1 in flight
	if err := orch.Abort("operator_stop"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	be.release <- struct{}{} // the in-flight step still completes

	res := <-done
	if res.Success || res.StepsExecuted != 1 {
		t.Fatalf("abort must stop after the in-flight step: %+v", res)
	}
	if st := orch.GetStatus(); st.State != types.StateAborted {
		t.Fatalf("expected ABORTED, got %s", st.State)
	}
	// The post-execution battery is skipped on abort.
	if hist := orch.GetValidationHistory(); len(hist) != 1 {
		t.Fatalf("expected only the pre-execution report, got %d", len(hist))
	}
}

// failWriter simulates an artifact store outage.
type failWriter struct{}

func (failWriter) WriteAll(context.Context, *types.ExecutionContext, []types.StepResult) error {
	return errors.New("store unavailable")
}

func TestArtifactFailureFailsRun(t *testing.T) {
	m := store.NewMemory()
	auth := pathauth.New(nil, nil)
	orch, err := New(Config{
		Executor:         executor.New(m, auth),
		Gate:             gate.New(trusted, auth, gate.NewKillSwitch("")),
		Artifacts:        failWriter{},
		Authorizer:       auth,
		TrustedRequester: trusted,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if _, err := orch.LoadPlan(planDoc(t, "plan-art", "generated/a.txt")); err != nil {
		t.Fatalf("load: %v", err)
	}

	res, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatalf("artifact failure must fail the run")
	}
	if st := orch.GetStatus(); st.State != types.StateFailed {
		t.Fatalf("expected FAILED, got %s", st.State)
	}
}
