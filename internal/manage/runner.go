// Package manage runs the archive's management commands that perform the
// actual batch load and purge work.
package manage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/open-oni/oni-admin/internal/jobs"
)

var (
	// ErrAlreadyLoaded is returned when load_batch reports the batch is already in the archive.
	ErrAlreadyLoaded = errors.New("batch already loaded")
	// ErrBatchNotFound is returned when purge_batch reports the batch does not exist.
	ErrBatchNotFound = errors.New("batch does not exist")
)

// Logger defines the interface for logging.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Work describes one unit of work handed to the executor.
type Work struct {
	JobID  string
	Kind   jobs.Kind
	Target string
	// Path is the resolved batch directory; load only.
	Path string
}

// Runner executes manage.py subcommands.
type Runner struct {
	ManageBin string
	// Python, when set, is used as the interpreter for ManageBin.
	Python string
	Logger Logger
}

// Execute runs the management command for w. Command output is copied to out
// line by line as it is produced.
func (r *Runner) Execute(ctx context.Context, w Work, out io.Writer) error {
	args, err := commandArgs(w)
	if err != nil {
		return err
	}

	var captured bytes.Buffer
	sink := io.Writer(&captured)
	if out != nil {
		sink = io.MultiWriter(out, &captured)
	}

	r.logCommand(args)
	cmd := r.command(ctx, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(captured.String())
		if known := Classify(output); known != nil {
			return fmt.Errorf("%w: %s", known, w.Target)
		}
		if output == "" {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}
		return fmt.Errorf("%s failed: %w: %s", args[0], err, output)
	}

	r.Logger.Printf("Successfully ran %s for %s", args[0], w.Target)
	return nil
}

// Version returns the version reported by `manage.py --version`.
func (r *Runner) Version(ctx context.Context) (string, error) {
	cmd := r.command(ctx, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("manage --version failed: %w: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Classify maps known failure messages in command output to sentinel errors.
// It returns nil when no line matches.
func Classify(output string) error {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := normalizeLine(scanner.Text())
		switch {
		case strings.HasPrefix(line, "batch already loaded"):
			return ErrAlreadyLoaded
		case strings.HasPrefix(line, "batch does not exist"):
			return ErrBatchNotFound
		}
	}
	return nil
}

// normalizeLine lowercases a line and strips a leading exception name such as
// "CommandError: ".
func normalizeLine(line string) string {
	line = strings.ToLower(strings.TrimSpace(line))
	if i := strings.Index(line, ": "); i > 0 && !strings.Contains(line[:i], " ") {
		line = strings.TrimSpace(line[i+2:])
	}
	return line
}

func commandArgs(w Work) ([]string, error) {
	switch w.Kind {
	case jobs.KindLoadBatch:
		if w.Path == "" {
			return nil, errors.New("load_batch requires a batch path")
		}
		return []string{"load_batch", w.Path}, nil
	case jobs.KindPurgeBatch:
		if w.Target == "" {
			return nil, errors.New("purge_batch requires a batch name")
		}
		return []string{"purge_batch", w.Target}, nil
	default:
		return nil, fmt.Errorf("no management command for kind %q", w.Kind)
	}
}

func (r *Runner) command(ctx context.Context, args ...string) *exec.Cmd {
	if r.Python != "" {
		return exec.CommandContext(ctx, r.Python, append([]string{r.ManageBin}, args...)...)
	}
	return exec.CommandContext(ctx, r.ManageBin, args...)
}

// logCommand logs the management command being executed.
func (r *Runner) logCommand(args []string) {
	r.Logger.Printf("Executing: %s %s", r.ManageBin, strings.Join(args, " "))
}
