package jobs

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidID(t *testing.T) {
	fresh := NewID()
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"freshly generated", fresh, true},
		{"upper case", strings.ToUpper(fresh), true},
		{"library generated", uuid.New().String(), true},
		{"not a uuid", "not-a-uuid", false},
		{"empty", "", false},
		{"braced", "{" + fresh + "}", false},
		{"urn form", "urn:uuid:" + fresh, false},
		{"no hyphens", strings.ReplaceAll(fresh, "-", ""), false},
		{"bad hex", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz", false},
		{"misplaced hyphens", "0000000-00000-0000-0000-000000000000", false},
		{"path traversal", "../../../../etc/passwd0000000000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidID(tt.token); got != tt.want {
				t.Errorf("ValidID(%q) = %v, want %v", tt.token, got, tt.want)
			}
			if got := ValidID(tt.token); got != tt.want {
				t.Errorf("ValidID(%q) not stable across calls", tt.token)
			}
		})
	}
}
