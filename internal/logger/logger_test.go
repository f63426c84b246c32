package logger

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"debug", logrus.DebugLevel},
		{" WARN ", logrus.WarnLevel},
		{"nonsense", logrus.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseFormatter(t *testing.T) {
	if _, ok := parseFormatter("json").(*logrus.JSONFormatter); !ok {
		t.Error("expected JSON formatter for LOG_FORMAT=json")
	}
	if _, ok := parseFormatter("").(*logrus.TextFormatter); !ok {
		t.Error("expected text formatter by default")
	}
}

func TestMessageFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Infof("Guard", "Submit", "admitted %s", "batch_abc_issue1_ver01")
	Error("Guard", "Submit", errors.New("boom"))
	Error("Guard", "Submit", nil)
	WithJob("id-1", "load_batch", "batch_abc_issue1_ver01").Info("finished")

	out := buf.String()
	for _, want := range []string{
		"Guard -> Submit: admitted batch_abc_issue1_ver01",
		"Guard -> Submit: boom",
		"Guard -> Submit: unknown error",
		"job_id=id-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}
