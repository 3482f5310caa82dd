package orchestrator

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/domain"
)

// Approve moves an awaiting-approval session into patching and applies
// the approved patches one at a time. An empty patchIDs slice approves
// every pending patch. Cancellation is honored between patches, never
// mid-write. The session ends in verifying's successor state before
// Approve returns.
func (o *Orchestrator) Approve(ctx context.Context, sessionID string, patchIDs []string) error {
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.session
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s is %s and accepts no further operations", sess.ID, sess.Status)
	}
	if sess.Status != domain.StatusAwaitingApproval {
		return fmt.Errorf("session %s is %s, not awaiting approval", sess.ID, sess.Status)
	}

	approved, err := o.resolveApproved(sess, patchIDs)
	if err != nil {
		return err
	}

	if err := o.transition(sess, domain.StatusPatching); err != nil {
		return err
	}

	interrupted := false
	for _, p := range approved {
		if st.cancelled.Load() {
			interrupted = true
			break
		}
		o.applyOne(st, p)
	}

	if err := o.transition(sess, domain.StatusVerifying); err != nil {
		return err
	}
	if interrupted || st.cancelled.Load() {
		return o.transition(sess, domain.StatusCancelled)
	}

	return o.verifySession(ctx, st)
}

// resolveApproved maps the requested ids onto eligible patches
func (o *Orchestrator) resolveApproved(sess *domain.DebugSession, patchIDs []string) ([]*domain.PatchSolution, error) {
	if len(patchIDs) == 0 {
		pending := sess.PendingPatches()
		if len(pending) == 0 {
			return nil, fmt.Errorf("session %s has no pending patches", sess.ID)
		}
		return pending, nil
	}

	approved := make([]*domain.PatchSolution, 0, len(patchIDs))
	for _, id := range patchIDs {
		p := sess.FindPatch(id)
		if p == nil {
			return nil, fmt.Errorf("patch %s not found in session %s", id, sess.ID)
		}
		if !p.Eligible() {
			return nil, fmt.Errorf("patch %s is not eligible for application", id)
		}
		approved = append(approved, p)
	}
	return approved, nil
}

// applyOne applies a single patch, persists its new state, and publishes
// the outcome. Apply failures are session data, not orchestrator errors.
func (o *Orchestrator) applyOne(st *sessionState, p *domain.PatchSolution) {
	result := st.applier.Apply(p)
	if err := o.store.SavePatch(p); err != nil {
		o.fail(st.session, fmt.Sprintf("persisting patch %s: %v", p.ID, err))
		return
	}

	switch {
	case result.Success:
		o.hub.Publish(st.session.ID, broadcast.EventPatchApplied, result)
	case result.Rejected != nil:
		o.hub.Publish(st.session.ID, broadcast.EventPatchRejected, result)
	default:
		o.hub.Publish(st.session.ID, broadcast.EventPatchFailed, result)
	}
}

// RollbackPatch reverses an applied patch on an explicit client request
func (o *Orchestrator) RollbackPatch(sessionID, patchID string) (*domain.RollbackOperation, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.session
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s and accepts no further operations", sess.ID, sess.Status)
	}
	p := sess.FindPatch(patchID)
	if p == nil {
		return nil, fmt.Errorf("patch %s not found in session %s", patchID, sess.ID)
	}

	op, rbErr := st.applier.Rollback(p)
	if err := o.store.SaveRollback(op); err != nil {
		return op, fmt.Errorf("persisting rollback: %w", err)
	}
	if err := o.store.SavePatch(p); err != nil {
		return op, fmt.Errorf("persisting patch: %w", err)
	}
	o.hub.Publish(sess.ID, broadcast.EventPatchRolledBack, map[string]interface{}{
		"patch_id":    p.ID,
		"rollback_id": op.ID,
		"status":      op.Status,
	})
	return op, rbErr
}

// CancelSession requests cooperative cancellation. When no apply is in
// flight the session transitions immediately; otherwise the flag is
// honored at the next patch boundary.
func (o *Orchestrator) CancelSession(sessionID string) error {
	o.mu.Lock()
	st, ok := o.active[sessionID]
	o.mu.Unlock()
	if !ok {
		sess, err := o.store.GetSession(sessionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("session %s is %s and accepts no further operations", sess.ID, sess.Status)
	}

	st.cancelled.Store(true)
	if st.mu.TryLock() {
		defer st.mu.Unlock()
		if !st.session.Status.IsTerminal() {
			return o.transition(st.session, domain.StatusCancelled)
		}
	}
	return nil
}
