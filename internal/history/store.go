// Package history keeps an append-only audit trail of admin API activity.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSubmitted  = "submitted"
	TypeConflict   = "conflict"
	TypeRejected   = "rejected"
	TypeFinished   = "finished"
	TypeRecovered  = "recovered"
	TypeUnrecorded = "unrecorded" // terminal status could not be stored
)

// Event represents a history entry.
type Event struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	Status    string            `json:"status,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Target    string            `json:"target,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Query filters List. Zero fields match everything.
type Query struct {
	Type   string
	Status string
	Target string
	Limit  int
}

// Store persists history events to a JSONL file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a history store for the given state directory.
func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, "history.jsonl")}
}

// Append adds a history event. A nil Store discards events.
func (s *Store) Append(event Event) error {
	if s == nil {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal history event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write history event: %w", err)
	}
	return nil
}

// List returns history events matching q, newest first.
func (s *Store) List(q Query) ([]Event, error) {
	if s == nil {
		return []Event{}, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	defer file.Close()

	events := []Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if !q.matches(evt) {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan history file: %w", err)
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	// Reverse to newest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (q Query) matches(evt Event) bool {
	if q.Type != "" && !strings.EqualFold(evt.Type, q.Type) {
		return false
	}
	if q.Status != "" && !strings.EqualFold(evt.Status, q.Status) {
		return false
	}
	if q.Target != "" && evt.Target != q.Target {
		return false
	}
	return true
}
