package domain

import (
	"fmt"
	"time"
)

// DebugSession is the unit of work and concurrency isolation: one debugging
// run over one pipeline failure. It exclusively owns its Error and
// PatchSolution collections.
type DebugSession struct {
	ID         string
	PipelineID string
	Status     SessionStatus
	Errors     []*Error
	Patches    []*PatchSolution
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// transitions maps each non-terminal status to its allowed successors.
// failed and cancelled are reachable from every non-terminal state.
var transitions = map[SessionStatus][]SessionStatus{
	StatusCreated:          {StatusAnalyzing},
	StatusAnalyzing:        {StatusAwaitingApproval, StatusCompleted},
	StatusAwaitingApproval: {StatusPatching},
	StatusPatching:         {StatusVerifying},
	StatusVerifying:        {StatusCompleted},
}

// CanTransition reports whether moving from the current status to next is legal
func (s *DebugSession) CanTransition(next SessionStatus) bool {
	if s.Status.IsTerminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the session to next, rejecting illegal moves.
// Terminal sessions never transition again.
func (s *DebugSession) Transition(next SessionStatus) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.Status, next)
	}
	s.Status = next
	return nil
}

// Expired reports whether the session has passed its expiry deadline
func (s *DebugSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// FindPatch returns the patch with the given id, or nil
func (s *DebugSession) FindPatch(id string) *PatchSolution {
	for _, p := range s.Patches {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindError returns the error with the given id, or nil
func (s *DebugSession) FindError(id string) *Error {
	for _, e := range s.Errors {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// PendingPatches returns patches still eligible for application,
// template-based candidates first, then model-generated by confidence
func (s *DebugSession) PendingPatches() []*PatchSolution {
	var pending []*PatchSolution
	for _, p := range s.Patches {
		if p.Eligible() {
			pending = append(pending, p)
		}
	}
	return pending
}

// LastAppliedPatch returns the most recently applied patch, or nil
func (s *DebugSession) LastAppliedPatch() *PatchSolution {
	var last *PatchSolution
	for _, p := range s.Patches {
		if !p.Applied || p.AppliedAt == nil {
			continue
		}
		if last == nil || p.AppliedAt.After(*last.AppliedAt) {
			last = p
		}
	}
	return last
}
