// Package cli provides shared helpers for CLI commands.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ConfirmResult represents the result of a confirmation prompt.
type ConfirmResult int

const (
	// ConfirmYes means the user confirmed.
	ConfirmYes ConfirmResult = iota
	// ConfirmNo means the user declined.
	ConfirmNo
	// ConfirmNonInteractive means stdin is not a TTY and --yes was not set.
	ConfirmNonInteractive
)

// Summary describes the operation shown in the confirmation prompt.
type Summary struct {
	Action string
	Target string
	Server string
}

// Confirmer handles interactive confirmation prompts.
type Confirmer struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// IsTTY reports whether stdin is a terminal.
	IsTTY func() bool
}

// NewConfirmer creates a new Confirmer with default stdin/stdout/stderr.
func NewConfirmer() *Confirmer {
	return &Confirmer{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		IsTTY:  defaultIsTTY,
	}
}

func defaultIsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Confirm prompts the user before a destructive operation.
// Returns ConfirmYes if confirmed, ConfirmNo if declined, or ConfirmNonInteractive
// if stdin is not a TTY and yesFlag is false.
func (c *Confirmer) Confirm(summary *Summary, yesFlag bool) ConfirmResult {
	if yesFlag {
		return ConfirmYes
	}
	if !c.IsTTY() {
		return ConfirmNonInteractive
	}

	c.printSummary(summary)
	fmt.Fprint(c.Stdout, "Proceed? (y/N): ")

	reader := bufio.NewReader(c.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		// EOF or error - treat as "no"
		fmt.Fprintln(c.Stdout)
		return ConfirmNo
	}

	input = strings.TrimSpace(strings.ToLower(input))
	if input == "y" || input == "yes" {
		return ConfirmYes
	}
	return ConfirmNo
}

func (c *Confirmer) printSummary(summary *Summary) {
	fmt.Fprintln(c.Stdout)
	fmt.Fprintf(c.Stdout, "  Action: %s\n", summary.Action)
	fmt.Fprintf(c.Stdout, "  Batch:  %s\n", summary.Target)
	if summary.Server != "" {
		fmt.Fprintf(c.Stdout, "  Server: %s\n", summary.Server)
	}
	fmt.Fprintln(c.Stdout)
	fmt.Fprintln(c.Stdout, "  This removes the batch's issues and pages from the archive and search index.")
	fmt.Fprintln(c.Stdout)
}

// ConfirmOrExit handles the confirmation result and exits appropriately.
// If the user declines, it prints "Aborted by user." and exits with code 0.
// If non-interactive without --yes, it prints an error and exits with code 2.
func (c *Confirmer) ConfirmOrExit(summary *Summary, yesFlag bool) bool {
	switch c.Confirm(summary, yesFlag) {
	case ConfirmYes:
		return true
	case ConfirmNo:
		fmt.Fprintln(c.Stdout, "Aborted by user.")
		os.Exit(0)
	case ConfirmNonInteractive:
		fmt.Fprintln(c.Stderr, "ERROR: refusing to run without confirmation in non-interactive mode. Re-run with --yes.")
		os.Exit(2)
	}
	return false
}
