package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins base with elements the way the local blob backend joins
// its root directory with a stored object's name, refusing to produce a
// path that escapes base via a ".." element or an absolute element. Object
// names are content hashes or, under path-form naming, an inode's path built
// from its entry names, so a malformed or adversarial name
// must still not let Put/Get/Delete write or read outside the backend root.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("object name escapes backend root: %v", elements)
	}

	return fullPath, nil
}
