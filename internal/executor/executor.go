// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor performs single plan steps against a resource store,
// honoring dry-run staging and producing diffs for every intended change.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/buildd-org/buildd/internal/diff"
	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/store"
	"github.com/buildd-org/buildd/internal/types"
)

// maxPreviewBytes bounds create/delete diff previews so results never carry
// unbounded text.
const maxPreviewBytes = 2048

// PendingChange is one staged dry-run mutation.
type PendingChange struct {
	Action  types.StepAction `json:"action"`
	Path    string           `json:"path"`
	Content string           `json:"content,omitempty"`
	Before  string           `json:"before,omitempty"`
}

// Executor runs individual steps. Every target path is re-validated against
// the authorizer independently of the load-time scope check; step content can
// reference paths outside the declared scope, so a step is never trusted
// merely because its parent plan passed validation.
type Executor struct {
	store  store.ResourceStore
	auth   *pathauth.Authorizer
	logger *slog.Logger

	mu      sync.Mutex
	pending []PendingChange
}

// New builds an Executor over the given store and authorizer.
func New(rs store.ResourceStore, auth *pathauth.Authorizer) *Executor {
	return &Executor{store: rs, auth: auth, logger: slog.Default()}
}

// ExecuteStep runs one step. Semantic failures (unknown action, unauthorized
// path) are reported in the result with status FAILED and a nil error; a
// non-nil error means an unexpected store failure and is fatal to the run.
func (e *Executor) ExecuteStep(ctx context.Context, step types.Step, ec *types.ExecutionContext, dryRun bool) (types.StepResult, error) {
	res := types.StepResult{
		StepID:    step.StepID,
		Action:    step.Action,
		Status:    types.StepExecuting,
		DryRun:    dryRun,
		Timestamp: time.Now().UTC(),
	}

	if !step.Action.Known() {
		res.Status = types.StepFailed
		res.Error = fmt.Sprintf("unsupported action %q", step.Action)
		return res, nil
	}
	if len(step.Files) == 0 {
		res.Status = types.StepFailed
		res.Error = "step declares no target files"
		return res, nil
	}

	// Defense in depth: re-check every target before touching anything.
	for _, path := range step.Files {
		if err := e.auth.Authorize(path); err != nil {
			res.Status = types.StepFailed
			res.Error = fmt.Sprintf("unauthorized path: %v", err)
			return res, nil
		}
	}

	var diffs []string
	for _, path := range step.Files {
		var d string
		var err error
		switch step.Action {
		case types.ActionCreate:
			d, err = e.create(ctx, path, step.Content, dryRun)
		case types.ActionModify:
			d, err = e.modify(ctx, path, step.Content, dryRun)
		case types.ActionDelete:
			d, err = e.delete(ctx, path, dryRun)
		}
		if err != nil {
			res.Status = types.StepFailed
			res.Error = err.Error()
			return res, fmt.Errorf("step %s: %s %s: %w", step.StepID, step.Action, path, err)
		}
		res.FilesAffected = append(res.FilesAffected, path)
		if d != "" {
			diffs = append(diffs, d)
		}
	}

	res.Diff = strings.Join(diffs, "\n")
	res.Status = types.StepCompleted
	e.logger.Debug("step executed",
		slog.String("step_id", step.StepID),
		slog.String("action", string(step.Action)),
		slog.Bool("dry_run", dryRun),
		slog.Int("files", len(res.FilesAffected)),
	)
	return res, nil
}

// create stages or writes new content. The dry-run preview is truncated; the
// live write always carries the full content.
func (e *Executor) create(ctx context.Context, path, content string, dryRun bool) (string, error) {
	if dryRun {
		e.stage(PendingChange{Action: types.ActionCreate, Path: path, Content: content})
		return diff.Truncate(diff.Unified(path, "", content), maxPreviewBytes), nil
	}
	if err := e.store.Put(ctx, path, content); err != nil {
		return "", err
	}
	return diff.Unified(path, "", content), nil
}

// modify always computes the full diff between existing and proposed content,
// regardless of mode, so callers can inspect intended change size.
func (e *Executor) modify(ctx context.Context, path, content string, dryRun bool) (string, error) {
	before, _, err := e.store.Get(ctx, path)
	if err != nil {
		return "", err
	}
	d := diff.Unified(path, before, content)
	if dryRun {
		e.stage(PendingChange{Action: types.ActionModify, Path: path, Content: content, Before: before})
		return d, nil
	}
	if err := e.store.Put(ctx, path, content); err != nil {
		return "", err
	}
	return d, nil
}

// delete removes a resource. A missing resource is an idempotent no-op with
// no diff in either mode.
func (e *Executor) delete(ctx context.Context, path string, dryRun bool) (string, error) {
	before, exists, err := e.store.Get(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	if dryRun {
		e.stage(PendingChange{Action: types.ActionDelete, Path: path, Before: before})
		return diff.Truncate(diff.Unified(path, before, ""), maxPreviewBytes), nil
	}
	if err := e.store.Delete(ctx, path); err != nil {
		return "", err
	}
	return diff.Unified(path, before, ""), nil
}

func (e *Executor) stage(pc PendingChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, pc)
}

// PendingChanges returns everything staged during dry runs, in order.
func (e *Executor) PendingChanges() []PendingChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingChange, len(e.pending))
	copy(out, e.pending)
	return out
}

// ClearPending discards all staged changes.
func (e *Executor) ClearPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}
