// Package worktree provides access to the target working tree being
// patched. The applier is the only engine component that mutates it.
package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Accessor is the narrow contract for reading and mutating a target tree.
// Paths are relative to the tree root.
type Accessor interface {
	Read(path string) (string, error)
	Write(path, content string) error
	Exists(path string) bool

	// Snapshot captures the current content of the given paths and
	// returns an opaque ref usable with Restore.
	Snapshot(paths []string) (string, error)

	// Restore writes the captured content of every path in the snapshot
	// back to the tree.
	Restore(ref string) error
}

// Dir is a filesystem-backed Accessor rooted at a directory. Snapshots are
// written as JSON files under a separate snapshot directory so a restore
// survives process restarts.
type Dir struct {
	root    string
	snapDir string
}

// NewDir creates a Dir accessor. snapDir may be empty, in which case
// snapshots live under the system temp directory.
func NewDir(root, snapDir string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("worktree root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("worktree root %s is not a directory", root)
	}
	if snapDir == "" {
		snapDir = filepath.Join(os.TempDir(), "selfheal-snapshots")
	}
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &Dir{root: root, snapDir: snapDir}, nil
}

// Root returns the tree's root directory
func (d *Dir) Root() string {
	return d.root
}

// resolve maps a tree-relative path to an absolute one, rejecting escapes
func (d *Dir) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path) // forces .. resolution
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(filepath.Separator)) && abs != d.root {
		return "", fmt.Errorf("path %s escapes worktree", path)
	}
	return abs, nil
}

// Read returns the content of a file in the tree
func (d *Dir) Read(path string) (string, error) {
	abs, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write replaces the content of a file in the tree
func (d *Dir) Write(path, content string) error {
	abs, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0644)
}

// Exists reports whether a file is present in the tree
func (d *Dir) Exists(path string) bool {
	abs, err := d.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// snapshot is the on-disk shape of a captured tree state
type snapshot struct {
	Files map[string]string `json:"files"`
}

// Snapshot captures the listed files. Every path must exist; a capture
// failure aborts before anything is written, so a partial snapshot is
// never produced.
func (d *Dir) Snapshot(paths []string) (string, error) {
	snap := snapshot{Files: make(map[string]string, len(paths))}
	for _, p := range paths {
		if _, ok := snap.Files[p]; ok {
			continue
		}
		content, err := d.Read(p)
		if err != nil {
			return "", fmt.Errorf("snapshot %s: %w", p, err)
		}
		snap.Files[p] = content
	}

	ref := uuid.NewString()
	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(d.snapPath(ref), data, 0644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return ref, nil
}

// Restore writes every file in the snapshot back to the tree
func (d *Dir) Restore(ref string) error {
	data, err := os.ReadFile(d.snapPath(ref))
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", ref, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing snapshot %s: %w", ref, err)
	}
	for path, content := range snap.Files {
		if err := d.Write(path, content); err != nil {
			return fmt.Errorf("restoring %s: %w", path, err)
		}
	}
	return nil
}

func (d *Dir) snapPath(ref string) string {
	return filepath.Join(d.snapDir, ref+".json")
}
