package applier

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

// ApplyResult is the structured outcome of one apply attempt
type ApplyResult struct {
	PatchID  string                 `json:"patch_id"`
	Success  bool                   `json:"success"`
	Rejected *domain.RejectedReason `json:"rejected,omitempty"`
	Detail   string                 `json:"detail,omitempty"`
}

// Applier applies validated patches to a working tree and manages
// rollbacks. It holds no state of its own; per-session serialization is
// the orchestrator's responsibility.
type Applier struct {
	tree      worktree.Accessor
	validator *Validator
}

// New creates an Applier over the given tree
func New(tree worktree.Accessor, validator *Validator) *Applier {
	return &Applier{tree: tree, validator: validator}
}

// Apply validates and applies a patch. Validation is repeated immediately
// before writing since the tree may have changed since the eligibility
// check. If any edit fails mid-way, edits already written in this call are
// reverted before returning, so a partial application is never left in
// place.
func (a *Applier) Apply(p *domain.PatchSolution) ApplyResult {
	if p.Applied {
		return ApplyResult{PatchID: p.ID, Detail: domain.ErrAlreadyApplied.Error()}
	}
	if p.Rejected != nil {
		return ApplyResult{PatchID: p.ID, Rejected: p.Rejected, Detail: "patch was previously rejected"}
	}

	if rej := a.validator.Validate(p); rej != nil {
		p.MarkRejected(rej.Reason)
		return ApplyResult{PatchID: p.ID, Rejected: &rej.Reason, Detail: rej.Detail}
	}

	// Snapshot before any write; a capture failure aborts the apply.
	token, err := a.tree.Snapshot(editPaths(p.Diff))
	if err != nil {
		p.MarkFailed()
		return ApplyResult{PatchID: p.ID, Detail: fmt.Sprintf("snapshot capture: %v", err)}
	}

	// Track original contents for the in-call revert path.
	written := make(map[string]string)

	for i, edit := range p.Diff {
		content, err := a.tree.Read(edit.Path)
		if err != nil {
			a.revert(written)
			p.MarkFailed()
			return ApplyResult{PatchID: p.ID, Detail: fmt.Sprintf("edit %d: reading %s: %v", i+1, edit.Path, err)}
		}

		updated, err := applyEdit(content, edit)
		if err != nil {
			a.revert(written)
			p.MarkFailed()
			return ApplyResult{PatchID: p.ID, Detail: fmt.Sprintf("edit %d: %v", i+1, err)}
		}

		if _, ok := written[edit.Path]; !ok {
			written[edit.Path] = content
		}
		if err := a.tree.Write(edit.Path, updated); err != nil {
			a.revert(written)
			p.MarkFailed()
			return ApplyResult{PatchID: p.ID, Detail: fmt.Sprintf("edit %d: writing %s: %v", i+1, edit.Path, err)}
		}
	}

	if err := p.MarkApplied(token, time.Now()); err != nil {
		// Unreachable under the per-session mutex, but never report a
		// success that was not recorded.
		a.revert(written)
		return ApplyResult{PatchID: p.ID, Detail: err.Error()}
	}

	return ApplyResult{PatchID: p.ID, Success: true}
}

// revert writes back the pre-edit contents captured during this call
func (a *Applier) revert(written map[string]string) {
	for path, content := range written {
		if err := a.tree.Write(path, content); err != nil {
			slog.Error("in-call revert failed", "path", path, "error", err)
		}
	}
}

// Rollback restores the pre-patch snapshot of a reversible, applied patch.
// On restore failure the patch stays applied and the operation records
// the failure; success is never claimed silently.
func (a *Applier) Rollback(p *domain.PatchSolution) (*domain.RollbackOperation, error) {
	op := &domain.RollbackOperation{
		ID:      uuid.NewString(),
		PatchID: p.ID,
		Status:  domain.RollbackPending,
	}

	if !p.IsReversible {
		op.Status = domain.RollbackFailed
		return op, fmt.Errorf("patch %s is not reversible", p.ID)
	}
	if !p.Applied {
		op.Status = domain.RollbackFailed
		return op, fmt.Errorf("patch %s is not applied", p.ID)
	}
	if p.RollbackToken == "" {
		op.Status = domain.RollbackFailed
		return op, fmt.Errorf("patch %s has no rollback token", p.ID)
	}

	op.SnapshotRef = p.RollbackToken
	if err := a.tree.Restore(p.RollbackToken); err != nil {
		op.Status = domain.RollbackFailed
		return op, fmt.Errorf("restoring snapshot: %w", err)
	}

	now := time.Now()
	op.Status = domain.RollbackCompleted
	op.CompletedAt = &now
	p.Applied = false
	p.RollbackToken = ""
	return op, nil
}

// applyEdit replaces the Before text with After at the edit's location.
// Line 0 replaces the first occurrence anywhere in the file.
func applyEdit(content string, edit domain.FileEdit) (string, error) {
	if edit.Line <= 0 {
		idx := strings.Index(content, edit.Before)
		if idx == -1 {
			return "", fmt.Errorf("%s: before text not found", edit.Path)
		}
		return content[:idx] + edit.After + content[idx+len(edit.Before):], nil
	}

	lines := strings.Split(content, "\n")
	before := strings.Split(edit.Before, "\n")
	start := edit.Line - 1
	if start < 0 || start+len(before) > len(lines) {
		return "", fmt.Errorf("%s: line %d out of range", edit.Path, edit.Line)
	}
	for i, w := range before {
		if lines[start+i] != w {
			return "", fmt.Errorf("%s: content mismatch at line %d", edit.Path, edit.Line+i)
		}
	}

	after := strings.Split(edit.After, "\n")
	if edit.After == "" {
		after = nil // pure deletion
	}
	updated := make([]string, 0, len(lines)-len(before)+len(after))
	updated = append(updated, lines[:start]...)
	updated = append(updated, after...)
	updated = append(updated, lines[start+len(before):]...)
	return strings.Join(updated, "\n"), nil
}

// editPaths returns the unique file paths touched by a diff, in order
func editPaths(diff []domain.FileEdit) []string {
	seen := make(map[string]bool, len(diff))
	var paths []string
	for _, e := range diff {
		if !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}
	return paths
}
