package jobs

import (
	"github.com/google/uuid"
)

// NewID returns a random 128-bit identifier in canonical form.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether token is a UUID in its canonical hyphenated
// form (8-4-4-4-12 hex digits). Braced, URN and bare-hex forms are rejected.
func ValidID(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}
