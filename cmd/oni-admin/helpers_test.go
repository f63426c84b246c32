package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"indents json", `{"info":"ok","job_id":"N/A"}`, "{\n  \"info\": \"ok\",\n  \"job_id\": \"N/A\"\n}\n"},
		{"raw text", "not json\n", "not json\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printJSON(&buf, []byte(tt.body))
			if buf.String() != tt.want {
				t.Errorf("printJSON() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestDaemonURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADMIN_PORT", "9100")
	t.Setenv("ADMIN_BIND", "0.0.0.0")
	t.Setenv("ADMIN_BASE_PATH", "/admin/")
	t.Setenv("STATE_DIR", t.TempDir())

	got := daemonURL()
	if !strings.HasPrefix(got, "http://127.0.0.1:9100") || !strings.HasSuffix(got, "/admin") {
		t.Errorf("daemonURL() = %q, want http://127.0.0.1:9100/admin", got)
	}
}
