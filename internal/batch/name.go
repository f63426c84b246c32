// Package batch validates batch identifiers and locates batch data on disk.
package batch

import (
	"regexp"
	"strings"
)

var (
	orgCodePattern  = regexp.MustCompile(`^[a-z]+$`)
	freeNamePattern = regexp.MustCompile(`^\w+$`)
	versionPattern  = regexp.MustCompile(`^ver\d\d$`)
)

// ValidName reports whether name follows batch_<org>_<name>_ver<NN>.
// Accepted names contain only ASCII letters, digits and underscores, so
// they are safe to use as a path element.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	parts := strings.Split(name, "_")
	if len(parts) != 4 {
		return false
	}
	return parts[0] == "batch" &&
		orgCodePattern.MatchString(parts[1]) &&
		freeNamePattern.MatchString(parts[2]) &&
		versionPattern.MatchString(parts[3])
}
