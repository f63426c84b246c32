package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndList(t *testing.T) {
	store := NewStore(t.TempDir())

	events := []Event{
		{Type: TypeSubmitted, Status: "In Progress", JobID: "a", Target: "batch_abc_one_ver01"},
		{Type: TypeConflict, Target: "batch_abc_one_ver01", JobID: "a"},
		{Type: TypeFinished, Status: "Completed", JobID: "a", Target: "batch_abc_one_ver01"},
		{Type: TypeSubmitted, Status: "In Progress", JobID: "b", Target: "batch_abc_two_ver01"},
	}
	for _, evt := range events {
		if err := store.Append(evt); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	all, err := store.List(Query{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].JobID != "b" {
		t.Errorf("expected newest first, got %+v", all[0])
	}
	if all[0].ID == "" || all[0].Timestamp == "" {
		t.Errorf("expected id and timestamp to be filled, got %+v", all[0])
	}

	submitted, _ := store.List(Query{Type: "SUBMITTED"})
	if len(submitted) != 2 {
		t.Errorf("expected 2 submitted events, got %d", len(submitted))
	}

	one, _ := store.List(Query{Target: "batch_abc_one_ver01", Status: "completed"})
	if len(one) != 1 || one[0].Type != TypeFinished {
		t.Errorf("unexpected filtered events: %+v", one)
	}

	limited, _ := store.List(Query{Limit: 1})
	if len(limited) != 1 || limited[0].JobID != "b" {
		t.Errorf("expected only the newest event, got %+v", limited)
	}
}

func TestList_MissingFileAndBadLines(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	events, err := store.List(Query{})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty list, got %v, %v", events, err)
	}

	content := "not json\n\n{\"id\":\"evt-1\",\"type\":\"submitted\"}\n"
	if err := os.WriteFile(filepath.Join(dir, "history.jsonl"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}
	events, err = store.List(Query{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-1" {
		t.Errorf("expected malformed lines to be skipped, got %+v", events)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.Append(Event{Type: TypeSubmitted}); err != nil {
		t.Errorf("nil store append should be a no-op, got %v", err)
	}
	events, err := store.List(Query{})
	if err != nil || len(events) != 0 {
		t.Errorf("nil store list should be empty, got %v, %v", events, err)
	}
}
