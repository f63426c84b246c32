package cli

import (
	"bytes"
	"strings"
	"testing"
)

func newConfirmer(stdin string, tty bool) (*Confirmer, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	return &Confirmer{
		Stdin:  strings.NewReader(stdin),
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
		IsTTY:  func() bool { return tty },
	}, stdout
}

var purgeSummary = &Summary{
	Action: "Purge Batch",
	Target: "batch_abc_issue1_ver01",
	Server: "http://127.0.0.1:2580",
}

func TestConfirm_YesFlagSkipsPrompt(t *testing.T) {
	c, stdout := newConfirmer("", true)

	if result := c.Confirm(purgeSummary, true); result != ConfirmYes {
		t.Errorf("expected ConfirmYes when --yes flag is set, got %v", result)
	}
	if stdout.Len() != 0 {
		t.Errorf("expected no output with --yes flag, got %q", stdout.String())
	}
}

func TestConfirm_TTY(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ConfirmResult
	}{
		{"y", "y\n", ConfirmYes},
		{"yes", "yes\n", ConfirmYes},
		{"upper Y", "Y\n", ConfirmYes},
		{"n", "n\n", ConfirmNo},
		{"empty", "\n", ConfirmNo},
		{"anything else", "maybe\n", ConfirmNo},
		{"EOF", "", ConfirmNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, stdout := newConfirmer(tt.input, true)
			if result := c.Confirm(purgeSummary, false); result != tt.want {
				t.Errorf("expected %v, got %v", tt.want, result)
			}

			output := stdout.String()
			if !strings.Contains(output, "Purge Batch") || !strings.Contains(output, "batch_abc_issue1_ver01") {
				t.Errorf("expected summary to be printed, got %q", output)
			}
			if !strings.Contains(output, "Proceed? (y/N):") {
				t.Error("expected prompt to be shown")
			}
		})
	}
}

func TestConfirm_NonInteractive(t *testing.T) {
	c, stdout := newConfirmer("y\n", false)

	if result := c.Confirm(purgeSummary, false); result != ConfirmNonInteractive {
		t.Errorf("expected ConfirmNonInteractive without a TTY, got %v", result)
	}
	if stdout.Len() != 0 {
		t.Errorf("expected nothing printed without a TTY, got %q", stdout.String())
	}
}
