// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/buildd-org/buildd/internal/coredb"
)

type journalSink struct {
	journal *coredb.Journal
	logger  *slog.Logger
}

// NewJournalSink returns a Sink that persists audit events in the SQLite
// journal. A nil journal yields a nil sink, which the composite filters out.
func NewJournalSink(journal *coredb.Journal) Sink {
	if journal == nil {
		return nil
	}
	return &journalSink{journal: journal, logger: slog.Default()}
}

func (s *journalSink) Emit(ev Event) {
	if s == nil {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode audit event", slog.String("plan_id", ev.PlanID), slog.String("error", err.Error()))
		return
	}
	if _, err := s.journal.Append(context.Background(), ev.PlanID, ev.Type, payload, ts); err != nil {
		s.logger.Error("persist audit event",
			slog.String("plan_id", ev.PlanID),
			slog.String("event", ev.Type),
			slog.String("error", err.Error()))
	}
}
