package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordStartAndResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.RecordStart(ctx, "quantum computing")
	if err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	if id == "" {
		t.Fatal("RecordStart() returned empty journal ID")
	}

	result := &domain.Result{
		InteractionID: "int_abc",
		Status:        domain.StatusCompleted,
		Usage:         domain.TokenUsage{InputTokens: 5, OutputTokens: 95, TotalTokens: 100},
	}
	if err := store.RecordResult(ctx, id, result); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() = %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.ID != id || rec.InteractionID != "int_abc" || rec.Topic != "quantum computing" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Status != domain.StatusCompleted || rec.TotalTokens != 100 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecordFailureKeepsInteractionID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.RecordStart(ctx, "topic")
	if err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}

	perr := domain.ErrNetwork("gave up").WithInteraction("int_resumable")
	if err := store.RecordFailure(ctx, id, perr); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	rec := records[0]
	if rec.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", rec.Status)
	}
	if rec.InteractionID != "int_resumable" {
		t.Errorf("InteractionID = %q, the resume handle must survive failure", rec.InteractionID)
	}
	if rec.Error == "" {
		t.Error("Error column should carry the failure message")
	}
}

func TestRecordFailureCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.RecordStart(ctx, "topic")
	perr := domain.ErrCancelled("interrupted").WithInteraction("int_1")
	if err := store.RecordFailure(ctx, id, perr); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	records, _ := store.List(ctx, 10)
	if records[0].Status != domain.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", records[0].Status)
	}
}

func TestListNewestFirstAndLimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, topic := range []string{"first", "second", "third"} {
		if _, err := store.RecordStart(ctx, topic); err != nil {
			t.Fatalf("RecordStart(%s) error = %v", topic, err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List(2) = %d records", len(records))
	}
}
