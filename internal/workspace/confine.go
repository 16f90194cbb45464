package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for error messages.
// For example, "/data/recipes/work_stars_R22_S21_atm3" becomes
// ".../recipes/work_stars_R22_S21_atm3".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Confine checks that path resolves inside root. Symlinks are resolved on
// the deepest existing ancestor of each, so paths that do not exist yet are
// accepted as long as they would be created under root.
func Confine(path, root string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains null byte")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	resolvedPath, err := resolveExisting(absPath)
	if err != nil {
		return err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("cannot resolve root: %w", err)
	}
	resolvedRoot, err := resolveExisting(absRoot)
	if err != nil {
		return err
	}

	if !isSubpath(resolvedPath, resolvedRoot) {
		return fmt.Errorf("%q is outside %q", RedactPath(absPath), RedactPath(absRoot))
	}
	return nil
}

// resolveExisting resolves symlinks on the deepest existing ancestor of p
// and re-appends the part that does not exist yet.
func resolveExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(p)
	if parent == p {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(p))
	}

	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// isSubpath reports whether path is base or lies below it.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(path, prefix)
}
