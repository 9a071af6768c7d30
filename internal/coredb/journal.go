// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/buildd-org/buildd/internal/observability/tracing"
)

// ErrJournalQuotaExceeded indicates the requested append cannot be satisfied
// because the payload is larger than the configured journal limit.
var ErrJournalQuotaExceeded = errors.New("coredb: journal quota exceeded")

// JournalEntry represents a persisted audit event.
type JournalEntry struct {
	Seq       int64
	PlanID    string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// Journal provides append-only audit persistence backed by the DB. Old
// entries are evicted oldest-first when an append would exceed the size
// budget.
type Journal struct {
	db       *sql.DB
	maxBytes int64
	nowFn    func() time.Time
}

// NewJournal returns a Journal backed by the provided DB with the supplied
// maximum size budget. When maxBytes is zero or negative the default (64 MiB)
// is used.
func NewJournal(db *DB, maxBytes int64) *Journal {
	if db == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = defaultJournalMaxBytes
	}
	return &Journal{
		db:       db.sql,
		maxBytes: maxBytes,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Append stores an event for the provided plan. It returns the persisted
// entry including the allocated sequence number. Appends run in a single
// transaction so eviction and insertion remain atomic.
func (j *Journal) Append(ctx context.Context, planID, eventType string, payload []byte, ts time.Time) (entry JournalEntry, err error) {
	if j == nil {
		return entry, nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.append",
		tracing.PersistDriver(sqliteDriverName),
		tracing.PersistOp("append"),
		tracing.PersistKeyspace("audit_journal"),
		tracing.PlanID(planID),
		tracing.Int("payload.bytes", len(payload)),
		tracing.String("journal.event_type", eventType),
	)
	defer tracing.End(span, &err)

	if planID == "" {
		err = fmt.Errorf("append journal: plan id required")
		return entry, err
	}
	if len(payload) == 0 {
		err = fmt.Errorf("append journal: payload required")
		return entry, err
	}
	payloadBytes := int64(len(payload))
	if payloadBytes > j.maxBytes {
		err = ErrJournalQuotaExceeded
		return entry, err
	}

	now := ts
	if now.IsZero() {
		now = j.nowFn()
	}

	var tx *sql.Tx
	tx, err = j.db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("begin journal tx: %w", err)
		return entry, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existingBytes int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(payload)), 0) FROM audit_journal`).Scan(&existingBytes); err != nil {
		err = fmt.Errorf("journal size lookup: %w", err)
		return entry, err
	}

	var evictedTotal int64
	for existingBytes+payloadBytes > j.maxBytes {
		var seq int64
		var size int64
		err = tx.QueryRowContext(ctx, `SELECT seq, length(payload) FROM audit_journal ORDER BY seq ASC LIMIT 1`).Scan(&seq, &size)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			break
		}
		if err != nil {
			err = fmt.Errorf("journal eviction lookup: %w", err)
			return entry, err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM audit_journal WHERE seq = ?`, seq); err != nil {
			err = fmt.Errorf("journal eviction delete seq=%d: %w", seq, err)
			return entry, err
		}
		evictedTotal += size
		existingBytes -= size
		if existingBytes < 0 {
			existingBytes = 0
		}
	}
	if evictedTotal > 0 && span != nil {
		span.SetAttributes(tracing.Int64("journal.evicted_bytes_total", evictedTotal))
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
INSERT INTO audit_journal (plan_id, event_type, payload, ts)
VALUES (?, ?, ?, ?)
`, planID, eventType, payload, now.UnixMilli())
	if err != nil {
		err = fmt.Errorf("journal insert: %w", err)
		return entry, err
	}
	var seq int64
	seq, err = res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("journal last insert id: %w", err)
		return entry, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("journal commit: %w", err)
		return entry, err
	}

	entry = JournalEntry{
		Seq:       seq,
		PlanID:    planID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		Timestamp: now,
	}
	if span != nil {
		span.SetAttributes(tracing.Int64("journal.seq", entry.Seq))
	}
	return entry, nil
}

// Bounds returns the earliest and latest sequence currently retained for the
// provided plan. A zero earliest indicates no events are stored.
func (j *Journal) Bounds(ctx context.Context, planID string) (earliest, latest int64, err error) {
	if j == nil {
		return 0, 0, nil
	}
	if err = j.db.QueryRowContext(ctx, `
SELECT COALESCE(MIN(seq), 0), COALESCE(MAX(seq), 0)
FROM audit_journal WHERE plan_id = ?
`, planID).Scan(&earliest, &latest); err != nil {
		return 0, 0, fmt.Errorf("journal bounds: %w", err)
	}
	return earliest, latest, nil
}

// ForEach streams events for the supplied plan strictly after the provided
// sequence (seq > afterSeq) in ascending order. Iteration halts if the
// callback returns an error.
func (j *Journal) ForEach(ctx context.Context, planID string, afterSeq int64, fn func(JournalEntry) error) (err error) {
	if j == nil || fn == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.read",
		tracing.PersistDriver(sqliteDriverName),
		tracing.PersistOp("read"),
		tracing.PersistKeyspace("audit_journal"),
		tracing.PlanID(planID),
		tracing.Int64("journal.after_seq", afterSeq),
	)
	defer tracing.End(span, &err)

	var rows *sql.Rows
	rows, err = j.db.QueryContext(ctx, `
SELECT seq, event_type, payload, ts
FROM audit_journal
WHERE plan_id = ? AND seq > ?
ORDER BY seq ASC
`, planID, afterSeq)
	if err != nil {
		err = fmt.Errorf("journal query: %w", err)
		return err
	}
	defer rows.Close()

	entries := 0
	for rows.Next() {
		var seq int64
		var eventType string
		var payload []byte
		var tsMillis int64
		if scanErr := rows.Scan(&seq, &eventType, &payload, &tsMillis); scanErr != nil {
			err = fmt.Errorf("journal scan: %w", scanErr)
			return err
		}
		entry := JournalEntry{
			Seq:       seq,
			PlanID:    planID,
			EventType: eventType,
			Payload:   payload,
			Timestamp: time.UnixMilli(tsMillis).UTC(),
		}
		if cbErr := fn(entry); cbErr != nil {
			err = cbErr
			return err
		}
		entries++
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = fmt.Errorf("journal rows: %w", rowsErr)
		return err
	}
	if span != nil {
		span.SetAttributes(tracing.Int("journal.entries", entries))
	}
	return nil
}
