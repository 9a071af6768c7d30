// SPDX-License-Identifier: AGPL-3.0-or-later

// Package execlog keeps the in-memory, append-only execution log consulted
// by the audit surface and exported into the execution_log artifact.
package execlog

import (
	"sync"
	"time"

	"github.com/buildd-org/buildd/internal/events"
)

// Entry is one recorded execution event.
type Entry struct {
	Seq       int64          `json:"seq"`
	PlanID    string         `json:"plan_id"`
	Event     string         `json:"event"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log records events in arrival order, keyed by plan id. It implements
// events.Sink so it can sit behind the composite fan-out.
type Log struct {
	mu      sync.RWMutex
	seq     int64
	entries []Entry
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Emit appends the event to the log.
func (l *Log) Emit(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	l.entries = append(l.entries, Entry{
		Seq:       l.seq,
		PlanID:    ev.PlanID,
		Event:     ev.Type,
		Step:      ev.Step,
		Message:   ev.Message,
		Data:      ev.Data,
		Timestamp: ts,
	})
}

// Entries returns every recorded entry in order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForPlan returns the ordered entries recorded for one plan.
func (l *Log) ForPlan(planID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.PlanID == planID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
