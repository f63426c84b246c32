// Package toolcompat checks that the installed management tooling is new
// enough for the admin service.
package toolcompat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
)

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*([-+.][0-9A-Za-z.-]+)?`)

// VersionSource reports the version string of the installed tooling.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// NormalizeVersion trims whitespace and a leading "v" prefix, and extracts
// the first version-looking token from banners such as "Django 4.2.11".
func NormalizeVersion(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "v")
	if match := versionPattern.FindString(value); match != "" {
		return match
	}
	return value
}

// IsBelow returns true when currentVersion is lower than minimum.
// An empty minimum disables the check.
func IsBelow(currentVersion, minimum string) (bool, error) {
	minimum = NormalizeVersion(minimum)
	if minimum == "" {
		return false, nil
	}
	currentVersion = NormalizeVersion(currentVersion)
	if currentVersion == "" {
		return false, errors.New("current version is empty")
	}

	current, err := version.NewVersion(currentVersion)
	if err != nil {
		return false, fmt.Errorf("invalid current version %q: %w", currentVersion, err)
	}
	required, err := version.NewVersion(minimum)
	if err != nil {
		return false, fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}

	return current.LessThan(required), nil
}

// Check asks src for its version and fails if it is below minimum.
func Check(ctx context.Context, src VersionSource, minimum string) (string, error) {
	if NormalizeVersion(minimum) == "" {
		return "", nil
	}
	current, err := src.Version(ctx)
	if err != nil {
		return "", err
	}
	below, err := IsBelow(current, minimum)
	if err != nil {
		return current, err
	}
	if below {
		return current, fmt.Errorf("management tooling version %s is below required %s", NormalizeVersion(current), NormalizeVersion(minimum))
	}
	return current, nil
}
