// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator drives governed plan execution: it loads and
// authorizes a plan, gates entry and exit through the validator, runs steps
// sequentially under the dry-run-first discipline, and emits audit events
// and artifacts.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildd-org/buildd/internal/artifacts"
	"github.com/buildd-org/buildd/internal/events"
	"github.com/buildd-org/buildd/internal/execlog"
	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/planloader"
	"github.com/buildd-org/buildd/internal/types"
)

// StepExecutor executes one step. Semantic failures surface in the result;
// a non-nil error is an unexpected failure and fatal to the run.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step types.Step, ec *types.ExecutionContext, dryRun bool) (types.StepResult, error)
}

// ValidatorGate brackets execution with independent pre and post batteries.
type ValidatorGate interface {
	PreExecutionCheck(ctx context.Context, ec *types.ExecutionContext) types.ValidationReport
	PostExecutionCheck(ctx context.Context, ec *types.ExecutionContext, results []types.StepResult) types.ValidationReport
	History() []types.ValidationReport
}

// Result is the structured outcome of Execute.
type Result struct {
	Success             bool                    `json:"success"`
	DryRun              bool                    `json:"dry_run"`
	StepsExecuted       int                     `json:"steps_executed"`
	Errors              []string                `json:"errors,omitempty"`
	Warnings            []string                `json:"warnings,omitempty"`
	Reason              string                  `json:"reason,omitempty"`
	Report              *types.ValidationReport `json:"report,omitempty"`
	KillSwitchTriggered bool                    `json:"kill_switch_triggered,omitempty"`
}

// Status is the outward progress surface.
type Status struct {
	State       types.BuildState `json:"state"`
	PlanID      string           `json:"plan_id,omitempty"`
	CurrentStep int              `json:"current_step"`
	TotalSteps  int              `json:"total_steps"`
	DryRun      bool             `json:"dry_run"`
	Errors      int              `json:"errors"`
	Warnings    int              `json:"warnings"`
}

// Config wires the orchestrator's collaborators. Executor is required; Gate,
// Artifacts, and Sink are optional.
type Config struct {
	Executor         StepExecutor
	Gate             ValidatorGate
	Artifacts        artifacts.Writer
	Sink             events.Sink
	Authorizer       *pathauth.Authorizer
	TrustedRequester string
	Log              *execlog.Log
}

// Orchestrator owns one ExecutionContext at a time. A separate instance is
// required per concurrently executing plan; only the kill switch is shared
// between instances.
type Orchestrator struct {
	executor StepExecutor
	gate     ValidatorGate
	writer   artifacts.Writer
	sink     events.Sink
	auth     *pathauth.Authorizer
	trusted  string
	log      *execlog.Log
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	ec      *types.ExecutionContext
	results []types.StepResult
	aborted  bool
	abortWhy string
}

// New builds an Orchestrator from the supplied wiring.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("orchestrator requires a step executor")
	}
	auth := cfg.Authorizer
	if auth == nil {
		auth = pathauth.New(nil, nil)
	}
	log := cfg.Log
	if log == nil {
		log = execlog.New()
	}
	sink := events.NewCompositeSink(cfg.Sink, log)
	o := &Orchestrator{
		executor: cfg.Executor,
		gate:     cfg.Gate,
		writer:   cfg.Artifacts,
		sink:     sink,
		auth:     auth,
		trusted:  cfg.TrustedRequester,
		log:      log,
		logger:   slog.Default(),
	}
	o.cond = sync.NewCond(&o.mu)
	return o, nil
}

// LoadPlan parses and authorizes a plan document, wrapping it in a fresh
// ExecutionContext in state PENDING with dry run enabled. Validation is a
// batch contract: the returned PlanInvalidError lists every violation.
func (o *Orchestrator) LoadPlan(doc []byte) (*types.ExecutionContext, error) {
	plan, err := planloader.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := planloader.Validate(plan, o.auth, o.trusted); err != nil {
		return nil, err
	}

	ec := &types.ExecutionContext{
		ContextID: uuid.NewString(),
		Plan:      plan,
		State:     types.StatePending,
		DryRun:    true,
	}

	o.mu.Lock()
	o.ec = ec
	o.results = nil
	o.aborted = false
	o.abortWhy = ""
	o.mu.Unlock()

	o.emit(events.PlanLoaded(plan.PlanID, plan.Hash()))
	o.logger.Info("plan loaded",
		slog.String("plan_id", plan.PlanID),
		slog.String("plan_hash", plan.Hash()),
		slog.Int("steps", len(plan.Steps)),
	)
	return ec, nil
}

// SetDryRun switches execution mode. Live mode is an explicit opt-in and
// only permitted before execution begins.
func (o *Orchestrator) SetDryRun(dryRun bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ec == nil {
		return fmt.Errorf("no plan loaded")
	}
	if o.ec.State != types.StatePending {
		return fmt.Errorf("cannot change mode in state %s", o.ec.State)
	}
	o.ec.DryRun = dryRun
	return nil
}

// Execute runs the loaded plan through the full gated lifecycle. The error
// return covers misuse only (no plan loaded, wrong state); gate rejections
// and step failures are reported through the Result.
func (o *Orchestrator) Execute(ctx context.Context) (Result, error) {
	o.mu.Lock()
	ec := o.ec
	if ec == nil {
		o.mu.Unlock()
		return Result{}, fmt.Errorf("no plan loaded")
	}
	if ec.State != types.StatePending {
		o.mu.Unlock()
		return Result{}, fmt.Errorf("cannot execute in state %s", ec.State)
	}
	o.mu.Unlock()

	now := time.Now().UTC()
	ec.StartedAt = &now
	o.transition(types.StateValidating, "")

	if o.gate != nil {
		report := o.gate.PreExecutionCheck(ctx, ec)
		o.emit(events.Validation(ec.Plan.PlanID, report))
		if !report.Approved {
			ec.AddError(fmt.Sprintf("pre-execution validation rejected: %s", report.Reason))
			o.transition(types.StateAborted, report.Reason)
			return o.finish(ec, &report), nil
		}
	}

	o.transition(types.StateApproved, "")
	o.transition(types.StateExecuting, "")

	steps := planloader.OrderedSteps(ec.Plan)
	for i, step := range steps {
		if !o.waitIfPaused() {
			break
		}
		o.mu.Lock()
		ec.CurrentStep = i
		o.mu.Unlock()

		o.emit(events.StepStart(ec.Plan.PlanID, step.StepID))
		res, err := o.executor.ExecuteStep(ctx, step, ec, ec.DryRun)
		o.mu.Lock()
		o.results = append(o.results, res)
		o.mu.Unlock()
		o.emit(events.StepFinish(ec.Plan.PlanID, res))

		if err != nil {
			// Unexpected executor failure is fatal regardless of mode.
			ec.AddError(err.Error())
			break
		}
		if res.Status == types.StepFailed {
			ec.AddError(fmt.Sprintf("step %s failed: %s", res.StepID, res.Error))
			if !ec.DryRun {
				// Live mode fails fast; dry run keeps going so one pass
				// surfaces every problem in the plan.
				break
			}
		}
	}

	o.mu.Lock()
	aborted, abortWhy := o.aborted, o.abortWhy
	results := append([]types.StepResult(nil), o.results...)
	o.mu.Unlock()

	if aborted {
		o.transition(types.StateAborted, abortWhy)
		return o.finish(ec, nil), nil
	}

	if o.gate != nil {
		report := o.gate.PostExecutionCheck(ctx, ec, results)
		o.emit(events.Validation(ec.Plan.PlanID, report))
		if !report.Approved {
			ec.AddError(fmt.Sprintf("post-execution validation rejected: %s", report.Reason))
			o.transition(types.StateFailed, report.Reason)
			return o.finish(ec, &report), nil
		}
	}

	if o.writer != nil {
		if err := o.writer.WriteAll(ctx, ec, results); err != nil {
			ec.AddError(fmt.Sprintf("artifact emission failed: %v", err))
			o.transition(types.StateFailed, "artifact_emission")
			return o.finish(ec, nil), nil
		}
	}

	o.transition(types.StateCompleted, "")
	return o.finish(ec, nil), nil
}

// Pause suspends execution before the next step. Only meaningful while
// EXECUTING; the in-flight step always runs to completion first.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ec == nil || o.ec.State != types.StateExecuting {
		return fmt.Errorf("can only pause while executing")
	}
	o.setStateLocked(types.StatePaused, "")
	return nil
}

// Resume continues a paused execution.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ec == nil || o.ec.State != types.StatePaused {
		return fmt.Errorf("can only resume while paused")
	}
	o.setStateLocked(types.StateExecuting, "")
	o.cond.Broadcast()
	return nil
}

// Abort terminates the execution from any non-terminal state. It does not
// preempt an in-flight step; the loop observes the flag at the next step
// boundary.
func (o *Orchestrator) Abort(reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ec == nil {
		return fmt.Errorf("no plan loaded")
	}
	if o.ec.State.Terminal() {
		return fmt.Errorf("cannot abort in terminal state %s", o.ec.State)
	}
	o.aborted = true
	o.abortWhy = reason
	if o.ec.State != types.StateExecuting && o.ec.State != types.StatePaused {
		// Not inside the execution loop; the state settles immediately.
		o.setStateLocked(types.StateAborted, reason)
	}
	o.cond.Broadcast()
	return nil
}

// GetStatus reports current progress.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ec == nil {
		return Status{State: types.StatePending}
	}
	return Status{
		State:       o.ec.State,
		PlanID:      o.ec.Plan.PlanID,
		CurrentStep: o.ec.CurrentStep,
		TotalSteps:  len(o.ec.Plan.Steps),
		DryRun:      o.ec.DryRun,
		Errors:      len(o.ec.Errors),
		Warnings:    len(o.ec.Warnings),
	}
}

// GetExecutionLog returns the full ordered event list for the loaded plan.
func (o *Orchestrator) GetExecutionLog() []execlog.Entry {
	o.mu.Lock()
	ec := o.ec
	o.mu.Unlock()
	if ec == nil {
		return nil
	}
	return o.log.ForPlan(ec.Plan.PlanID)
}

// GetValidationHistory returns every validation report issued by the gate.
func (o *Orchestrator) GetValidationHistory() []types.ValidationReport {
	if o.gate == nil {
		return nil
	}
	return o.gate.History()
}

// StepResults returns a copy of the results recorded so far.
func (o *Orchestrator) StepResults() []types.StepResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.StepResult(nil), o.results...)
}

// waitIfPaused blocks between steps while the context is paused. It returns
// false when the run was aborted.
func (o *Orchestrator) waitIfPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.ec.State == types.StatePaused && !o.aborted {
		o.cond.Wait()
	}
	return !o.aborted
}

func (o *Orchestrator) transition(to types.BuildState, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(to, reason)
}

func (o *Orchestrator) setStateLocked(to types.BuildState, reason string) {
	from := o.ec.State
	if from == to {
		return
	}
	o.ec.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		o.ec.CompletedAt = &now
	}
	ev := events.StateChange(o.ec.Plan.PlanID, from, to, reason)
	if o.sink != nil {
		// Emit without the lock is preferable, but sinks here are
		// append-only and never call back into the orchestrator.
		o.sink.Emit(ev)
	}
}

func (o *Orchestrator) emit(ev events.Event) {
	if o.sink != nil {
		o.sink.Emit(ev)
	}
}

// finish assembles the structured result and records the terminal event.
func (o *Orchestrator) finish(ec *types.ExecutionContext, report *types.ValidationReport) Result {
	o.mu.Lock()
	stepsExecuted := len(o.results)
	o.mu.Unlock()

	res := Result{
		Success:       ec.State == types.StateCompleted && len(ec.Errors) == 0,
		DryRun:        ec.DryRun,
		StepsExecuted: stepsExecuted,
		Errors:        append([]string(nil), ec.Errors...),
		Warnings:      append([]string(nil), ec.Warnings...),
	}
	if report != nil {
		res.Report = report
		res.Reason = report.Reason
		res.KillSwitchTriggered = report.KillSwitchTriggered
	}
	o.emit(events.RunFinish(ec.Plan.PlanID, ec.State, res.Success, res.DryRun, len(res.Errors)))
	return res
}
