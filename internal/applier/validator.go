// Package applier validates candidate patches and applies them to the
// target working tree. It is the only component that mutates the tree.
package applier

import (
	"fmt"
	"path"
	"strings"

	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

// DefaultDenylist blocks paths whose mutation could leak or compromise
// credentials and pipeline integrity.
var DefaultDenylist = []string{
	".env",
	"*.pem",
	"*.key",
	"id_rsa*",
	"*credentials*",
	"*secret*",
	".github/workflows/*",
	".gitlab-ci.yml",
}

// Rejection explains why a patch failed validation
type Rejection struct {
	Reason domain.RejectedReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("patch rejected (%s): %s", r.Reason, r.Detail)
}

// Validator statically checks a candidate patch before application.
// Validation never mutates state.
type Validator struct {
	tree     worktree.Accessor
	denylist []string
}

// NewValidator creates a Validator. An empty denylist falls back to
// DefaultDenylist.
func NewValidator(tree worktree.Accessor, denylist []string) *Validator {
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	return &Validator{tree: tree, denylist: denylist}
}

// Validate checks, in order: every referenced file exists, every "before"
// text still matches the tree (stale detection), and no edit touches a
// denied path. nil means the patch is eligible for application.
func (v *Validator) Validate(p *domain.PatchSolution) *Rejection {
	if len(p.Diff) == 0 {
		return &Rejection{Reason: domain.RejectedStale, Detail: "patch has an empty diff"}
	}

	for _, edit := range p.Diff {
		if !v.tree.Exists(edit.Path) {
			return &Rejection{
				Reason: domain.RejectedMissingFile,
				Detail: fmt.Sprintf("file %s does not exist in the target tree", edit.Path),
			}
		}
	}

	for _, edit := range p.Diff {
		content, err := v.tree.Read(edit.Path)
		if err != nil {
			return &Rejection{
				Reason: domain.RejectedMissingFile,
				Detail: fmt.Sprintf("reading %s: %v", edit.Path, err),
			}
		}
		if !beforeMatches(content, edit) {
			return &Rejection{
				Reason: domain.RejectedStale,
				Detail: fmt.Sprintf("%s no longer contains the expected text at line %d", edit.Path, edit.Line),
			}
		}
	}

	for _, edit := range p.Diff {
		if denied, rule := v.denied(edit.Path); denied {
			return &Rejection{
				Reason: domain.RejectedForbiddenPath,
				Detail: fmt.Sprintf("%s matches deny rule %q", edit.Path, rule),
			}
		}
	}

	return nil
}

// denied checks a path against the deny-list. Rules match against the
// full path and against the base name.
func (v *Validator) denied(p string) (bool, string) {
	norm := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	base := path.Base(norm)
	for _, rule := range v.denylist {
		if ok, _ := path.Match(rule, norm); ok {
			return true, rule
		}
		if ok, _ := path.Match(rule, base); ok {
			return true, rule
		}
	}
	return false, ""
}

// beforeMatches reports whether the edit's Before text is present at the
// stated location. Line 0 means "anywhere in the file".
func beforeMatches(content string, edit domain.FileEdit) bool {
	if edit.Line <= 0 {
		return strings.Contains(content, edit.Before)
	}
	lines := strings.Split(content, "\n")
	want := strings.Split(edit.Before, "\n")
	start := edit.Line - 1
	if start < 0 || start+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if lines[start+i] != w {
			return false
		}
	}
	return true
}
