// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/invowk/tagprobe/internal/failure"
)

// ErrDestroyed is returned when a destroyed workspace is used again.
var ErrDestroyed = errors.New("workspace destroyed")

// Workspace is a temporary directory tree owned by one scenario run.
// Nothing under it may be used after Destroy.
type Workspace struct {
	root string

	mu        sync.Mutex
	destroyed bool
}

// Allocate creates a fresh, empty, uniquely named directory under the system
// temp dir. Failures are AllocationFailures.
func Allocate(prefix string) (*Workspace, error) {
	if prefix == "" {
		prefix = "tagprobe"
	}
	root, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		return nil, failure.New(failure.Allocation, "allocate workspace", err)
	}
	// Resolve symlinked temp dirs (macOS /var -> /private/var) so paths
	// reported by git and by the consumer compare equal to ours.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root.
func (w *Workspace) Root() string { return w.root }

// Path joins elem under the root.
func (w *Workspace) Path(elem ...string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return "", ErrDestroyed
	}
	return filepath.Join(append([]string{w.root}, elem...)...), nil
}

// Subdir creates the named child directory if needed and returns its path.
// Calling it again with the same name returns the same directory.
func (w *Workspace) Subdir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", failure.New(failure.Allocation, "allocate "+name, fmt.Errorf("invalid subdirectory name %q", name))
	}
	dir, err := w.Path(name)
	if err != nil {
		return "", failure.New(failure.Allocation, "allocate "+name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", failure.New(failure.Allocation, "allocate "+name, err)
	}
	return dir, nil
}

// Destroy removes the workspace tree. It is safe to call more than once.
func (w *Workspace) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return nil
	}
	if err := Destroy(w.root); err != nil {
		return err
	}
	w.destroyed = true
	return nil
}

// Destroy recursively removes root and fails unless nothing is left behind.
// A root that does not exist counts as removed.
func Destroy(root string) error {
	if root == "" {
		return failure.New(failure.Cleanup, "destroy workspace", errors.New("empty path"))
	}
	removeErr := os.RemoveAll(root)
	if _, err := os.Lstat(root); !errors.Is(err, fs.ErrNotExist) {
		if removeErr == nil {
			removeErr = fmt.Errorf("%s still exists after removal", root)
		}
		return failure.New(failure.Cleanup, "destroy workspace", removeErr)
	}
	return nil
}
