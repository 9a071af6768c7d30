// SPDX-License-Identifier: AGPL-3.0-or-later

// Package artifacts persists the four mandatory execution artifacts: the
// plan record, the execution log, the diff manifest, and the validation
// report.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/buildd-org/buildd/internal/execlog"
	"github.com/buildd-org/buildd/internal/store"
	"github.com/buildd-org/buildd/internal/types"
)

// Writer persists execution artifacts.
type Writer interface {
	WriteAll(ctx context.Context, ec *types.ExecutionContext, results []types.StepResult) error
}

// LogSource supplies the recorded execution log for a plan.
type LogSource interface {
	ForPlan(planID string) []execlog.Entry
}

// ReportSource supplies the validation reports issued so far.
type ReportSource interface {
	History() []types.ValidationReport
}

// StoreWriter writes artifacts as JSON documents into a resource store under
// a fixed prefix.
type StoreWriter struct {
	store   store.ResourceStore
	prefix  string
	logs    LogSource
	reports ReportSource
	logger  *slog.Logger
}

// NewStoreWriter builds a writer rooted at prefix (default "artifacts").
func NewStoreWriter(rs store.ResourceStore, prefix string, logs LogSource, reports ReportSource) *StoreWriter {
	if prefix == "" {
		prefix = "artifacts"
	}
	return &StoreWriter{store: rs, prefix: prefix, logs: logs, reports: reports, logger: slog.Default()}
}

type planRecord struct {
	Plan        *types.BuildPlan `json:"plan"`
	PlanHash    string           `json:"plan_hash"`
	State       types.BuildState `json:"state"`
	DryRun      bool             `json:"dry_run"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type diffEntry struct {
	StepID        string           `json:"step_id"`
	Action        types.StepAction `json:"action"`
	Status        types.StepStatus `json:"status"`
	FilesAffected []string         `json:"files_affected,omitempty"`
	Diff          string           `json:"diff,omitempty"`
}

// WriteAll persists all four artifacts for the context's plan.
func (w *StoreWriter) WriteAll(ctx context.Context, ec *types.ExecutionContext, results []types.StepResult) error {
	planID := ec.Plan.PlanID

	record := planRecord{
		Plan:        ec.Plan,
		PlanHash:    ec.Plan.Hash(),
		State:       ec.State,
		DryRun:      ec.DryRun,
		GeneratedAt: time.Now().UTC(),
	}
	if err := w.put(ctx, planID, "plan_record.json", record); err != nil {
		return err
	}

	var logEntries []execlog.Entry
	if w.logs != nil {
		logEntries = w.logs.ForPlan(planID)
	}
	if err := w.put(ctx, planID, "execution_log.json", logEntries); err != nil {
		return err
	}

	manifest := make([]diffEntry, 0, len(results))
	for _, r := range results {
		manifest = append(manifest, diffEntry{
			StepID:        r.StepID,
			Action:        r.Action,
			Status:        r.Status,
			FilesAffected: r.FilesAffected,
			Diff:          r.Diff,
		})
	}
	if err := w.put(ctx, planID, "diff_manifest.json", manifest); err != nil {
		return err
	}

	var reports []types.ValidationReport
	if w.reports != nil {
		reports = w.reports.History()
	}
	if err := w.put(ctx, planID, "validation_report.json", reports); err != nil {
		return err
	}

	w.logger.Info("artifacts written",
		slog.String("plan_id", planID),
		slog.String("prefix", w.prefix),
	)
	return nil
}

func (w *StoreWriter) put(ctx context.Context, planID, name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", name, err)
	}
	key := path.Join(w.prefix, planID, name)
	if err := w.store.Put(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}
