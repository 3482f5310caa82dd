package domain

import (
	"errors"
	"time"
)

// ErrAlreadyApplied is returned when re-applying a patch that is still applied
var ErrAlreadyApplied = errors.New("patch already applied")

// FileEdit is one ordered edit in a patch diff. Before must match the
// current file content at the stated location for the edit to apply.
type FileEdit struct {
	Path   string `json:"path" yaml:"path"`
	Line   int    `json:"line" yaml:"line"`
	Before string `json:"before" yaml:"before"`
	After  string `json:"after" yaml:"after"`
}

// PatchSolution is one candidate fix for an Error
type PatchSolution struct {
	ID            string
	ErrorID       string
	SessionID     string
	Type          PatchType
	Description   string
	Diff          []FileEdit
	Confidence    float64 // ranking hint for model-generated patches
	IsReversible  bool
	Applied       bool
	Success       *bool // nil until an apply has been attempted
	AppliedAt     *time.Time
	RollbackToken string // present only if IsReversible and applied
	Rejected      *RejectedReason
}

// MarkApplied transitions the patch to applied exactly once per lifecycle.
// A patch that was rolled back may be applied again.
func (p *PatchSolution) MarkApplied(token string, at time.Time) error {
	if p.Applied {
		return ErrAlreadyApplied
	}
	ok := true
	p.Applied = true
	p.Success = &ok
	p.AppliedAt = &at
	if p.IsReversible {
		p.RollbackToken = token
	}
	return nil
}

// MarkFailed records a failed apply attempt
func (p *PatchSolution) MarkFailed() {
	failed := false
	p.Applied = false
	p.Success = &failed
}

// MarkRejected permanently sidelines the patch with a validator reason
func (p *PatchSolution) MarkRejected(reason RejectedReason) {
	r := reason
	p.Rejected = &r
	p.MarkFailed()
}

// Eligible reports whether the patch may still be submitted for application
func (p *PatchSolution) Eligible() bool {
	return !p.Applied && p.Rejected == nil
}

// RollbackOperation records a reversal of an applied patch
type RollbackOperation struct {
	ID          string
	PatchID     string
	Status      RollbackStatus
	SnapshotRef string
	CompletedAt *time.Time
}
