package batch

import (
	"os"
	"path/filepath"
	"strings"
)

// Locator resolves load requests to batch directories. Relative paths are
// taken relative to Root.
type Locator struct {
	Root string
}

// NewLocator creates a Locator for the given storage root.
func NewLocator(root string) *Locator {
	return &Locator{Root: root}
}

// NameFromPath returns the batch name a load path refers to: the last
// element of the cleaned path.
func NameFromPath(batchPath string) string {
	trimmed := strings.TrimSpace(batchPath)
	if trimmed == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(trimmed))
}

// Resolve returns the directory batchPath points at. ok is false when the
// path escapes Root or is not an existing directory.
func (l *Locator) Resolve(batchPath string) (dir string, ok bool) {
	trimmed := strings.TrimSpace(batchPath)
	if trimmed == "" {
		return "", false
	}

	dir = filepath.Clean(trimmed)
	if !filepath.IsAbs(dir) {
		root := filepath.Clean(l.Root)
		dir = filepath.Join(root, dir)
		if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return "", false
		}
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}
