package execlog

import (
	"testing"

	"github.com/buildd-org/buildd/internal/events"
	"github.com/buildd-org/buildd/internal/types"
)

func TestLogAssignsSequence(t *testing.T) {
	l := New()
	l.Emit(events.StepStart("plan-a", "s1"))
	l.Emit(events.StepStart("plan-b", "s1"))
	l.Emit(events.StepFinish("plan-a", types.StepResult{StepID: "s1", Status: types.StepCompleted}))

	entries := l.Entries()
	if len(entries) != 3 || l.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
		if e.Timestamp.IsZero() {
			t.Fatalf("entry %d missing timestamp", i)
		}
	}
}

func TestForPlanFilters(t *testing.T) {
	l := New()
	l.Emit(events.StepStart("plan-a", "s1"))
	l.Emit(events.StepStart("plan-b", "s1"))
	l.Emit(events.StepStart("plan-a", "s2"))

	got := l.ForPlan("plan-a")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for plan-a, got %d", len(got))
	}
	if got[0].Step != "s1" || got[1].Step != "s2" {
		t.Fatalf("entries out of order: %+v", got)
	}
	if got := l.ForPlan("plan-c"); got != nil {
		t.Fatalf("unknown plan must yield nil, got %v", got)
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := New()
	l.Emit(events.StepStart("plan-a", "s1"))

	a := l.Entries()
	a[0].PlanID = "mutated"
	if l.Entries()[0].PlanID != "plan-a" {
		t.Fatalf("Entries must return a copy")
	}
}
