// Package workspace prepares the per-job work and output directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirectoryPrepError reports a job directory that could not be created or cleared.
type DirectoryPrepError struct {
	Path string
	Op   string // "confine", "create", "clear" or "stat"
	Err  error
}

func (e *DirectoryPrepError) Error() string {
	return fmt.Sprintf("preparing directory %s: %s: %v", RedactPath(e.Path), e.Op, e.Err)
}

func (e *DirectoryPrepError) Unwrap() error {
	return e.Err
}

// Preparer creates and clears job directories confined to Root.
type Preparer struct {
	// Root is the directory every prepared path must resolve inside.
	// An empty Root disables confinement.
	Root string
}

// NewPreparer returns a Preparer confined to root.
func NewPreparer(root string) *Preparer {
	return &Preparer{Root: root}
}

// Prepare makes path an existing directory. With clear set, an existing
// directory is emptied; its own mode and ownership are kept.
// Calling Prepare twice with clear set leaves an empty directory both times.
func (p *Preparer) Prepare(path string, clear bool) error {
	if p.Root != "" {
		if err := Confine(path, p.Root); err != nil {
			return &DirectoryPrepError{Path: path, Op: "confine", Err: err}
		}
	}
	return Prepare(path, clear)
}

// Prepare is the unconfined form of Preparer.Prepare.
func Prepare(path string, clear bool) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0755); err != nil {
			return &DirectoryPrepError{Path: path, Op: "create", Err: err}
		}
		return nil
	case err != nil:
		return &DirectoryPrepError{Path: path, Op: "stat", Err: err}
	case !info.IsDir():
		return &DirectoryPrepError{Path: path, Op: "stat", Err: fmt.Errorf("exists and is not a directory")}
	}

	if !clear {
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return &DirectoryPrepError{Path: path, Op: "clear", Err: err}
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return &DirectoryPrepError{Path: path, Op: "clear", Err: err}
		}
	}
	return nil
}
