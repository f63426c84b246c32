package jobs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogStore keeps the captured command output of each job on disk,
// one append-only file per job under <stateDir>/jobs/<id>/output.log.
type LogStore struct {
	stateDir string
	mu       sync.Mutex
}

// NewLogStore creates a LogStore rooted at stateDir.
func NewLogStore(stateDir string) *LogStore {
	return &LogStore{stateDir: stateDir}
}

// AppendLog appends a line to the job's log file.
func (s *LogStore) AppendLog(jobID, line string) error {
	if !ValidID(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureJobDir(jobID); err != nil {
		return err
	}

	f, err := os.OpenFile(s.logsPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

// ReadLogs returns the job's log. It returns an empty string if nothing
// has been logged yet.
func (s *LogStore) ReadLogs(jobID string) (string, error) {
	if !ValidID(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}

	data, err := os.ReadFile(s.logsPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read log file: %w", err)
	}
	return string(data), nil
}

// Writer returns an io.Writer that appends each written line to the job's log.
func (s *LogStore) Writer(jobID string) *LineWriter {
	return &LineWriter{store: s, jobID: jobID}
}

// LineWriter splits written bytes into lines and appends them to a job log.
// Call Flush to write a trailing partial line.
type LineWriter struct {
	store   *LogStore
	jobID   string
	pending []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := string(w.pending[:i])
		w.pending = w.pending[i+1:]
		if err := w.store.AppendLog(w.jobID, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line.
func (w *LineWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	line := string(w.pending)
	w.pending = nil
	return w.store.AppendLog(w.jobID, line)
}

func (s *LogStore) logsPath(jobID string) string {
	return filepath.Join(s.stateDir, "jobs", jobID, "output.log")
}

func (s *LogStore) ensureJobDir(jobID string) error {
	jobDir := filepath.Join(s.stateDir, "jobs", jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	return nil
}
