package jobs

import (
	"fmt"
	"time"
)

// Kind identifies the operation a job performs.
// The set of kinds is closed: values can only be obtained from the package
// level variables or ParseKind.
type Kind struct {
	code string
}

var (
	KindLoadBatch  = Kind{code: "load_batch"}
	KindPurgeBatch = Kind{code: "purge_batch"}
)

var kindLabels = map[Kind]string{
	KindLoadBatch:  "Load Batch",
	KindPurgeBatch: "Purge Batch",
}

// Kinds lists every known kind in display order.
func Kinds() []Kind {
	return []Kind{KindLoadBatch, KindPurgeBatch}
}

// ParseKind resolves a stored code or a display label into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, label := range kindLabels {
		if s == k.code || s == label {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("unknown job kind %q", s)
}

// Code is the stable storage value.
func (k Kind) Code() string { return k.code }

// Label is the user-facing name.
func (k Kind) Label() string { return kindLabels[k] }

// IsZero reports whether k is the unset kind.
func (k Kind) IsZero() bool { return k.code == "" }

// IsBatch reports whether jobs of this kind operate on a batch of content pages.
func (k Kind) IsBatch() bool {
	return k == KindLoadBatch || k == KindPurgeBatch
}

func (k Kind) String() string { return k.code }

// MarshalText encodes the kind as its storage code.
func (k Kind) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("cannot marshal unset job kind")
	}
	return []byte(k.code), nil
}

// UnmarshalText accepts a storage code or label.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the lifecycle state of a job. Like Kind it is a closed set.
type Status struct {
	code string
}

var (
	StatusPending    = Status{code: "pending"}
	StatusInProgress = Status{code: "in_progress"}
	StatusCompleted  = Status{code: "completed"}
	StatusFailed     = Status{code: "failed"}
)

var statusLabels = map[Status]string{
	StatusPending:    "Pending",
	StatusInProgress: "In Progress",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
}

// predecessors lists, for every status, the states it may be entered from.
var predecessors = map[Status][]Status{
	StatusInProgress: {StatusPending},
	StatusCompleted:  {StatusInProgress},
	StatusFailed:     {StatusPending, StatusInProgress},
}

// ParseStatus resolves a stored code or a display label into a Status.
func ParseStatus(s string) (Status, error) {
	for st, label := range statusLabels {
		if s == st.code || s == label {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("unknown job status %q", s)
}

// Code is the stable storage value.
func (s Status) Code() string { return s.code }

// Label is the user-facing name, e.g. "In Progress".
func (s Status) Label() string { return statusLabels[s] }

// IsZero reports whether s is the unset status.
func (s Status) IsZero() bool { return s.code == "" }

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string { return s.code }

// Predecessors returns the states from which s may be entered.
func (s Status) Predecessors() []Status {
	return append([]Status(nil), predecessors[s]...)
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Transitions only move forward: Pending -> In Progress -> Completed|Failed.
func CanTransition(from, to Status) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// MarshalText encodes the status as its label.
func (s Status) MarshalText() ([]byte, error) {
	if s.IsZero() {
		return nil, fmt.Errorf("cannot marshal unset job status")
	}
	return []byte(s.Label()), nil
}

// UnmarshalText accepts a storage code or label.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Job is the durable record of one admin operation.
type Job struct {
	ID        string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	Status    Status    `json:"status"`
	Info      string    `json:"info"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a pending job for target with a fresh identifier.
// Info starts out as the target name.
func NewJob(kind Kind, target string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        NewID(),
		Kind:      kind,
		Target:    target,
		Status:    StatusPending,
		Info:      target,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
