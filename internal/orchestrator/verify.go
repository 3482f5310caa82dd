package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/domain"
)

// verifySession runs the post-patch check and finishes the session.
// Called with the session mutex held and the session in verifying.
func (o *Orchestrator) verifySession(ctx context.Context, st *sessionState) error {
	sess := st.session

	applied := appliedPatches(sess)
	if len(applied) == 0 {
		// Every approved patch was rejected or failed; there is nothing
		// to verify and nothing was fixed.
		o.fail(sess, "no patch was applied")
		return nil
	}

	fresh, err := o.freshErrors(ctx, st)
	if err != nil {
		slog.Warn("verification evidence unavailable, accepting applied patches",
			"session", sess.ID, "error", err)
		return o.transition(sess, domain.StatusCompleted)
	}

	if regressed, cause := o.regression(sess, fresh); regressed {
		o.hub.Publish(sess.ID, broadcast.EventSessionStatus, map[string]interface{}{
			"status":     domain.StatusVerifying,
			"regression": cause,
		})
		if o.cfg.Verification.RollbackOnRegress {
			o.rollbackLast(st)
		}
		o.fail(sess, fmt.Sprintf("verification regression: %s", cause))
		return nil
	}

	return o.transition(sess, domain.StatusCompleted)
}

// freshErrors gathers post-patch evidence: the verification command's
// output when one is configured, otherwise a fresh log fetch. The
// evidence is run through the same analyzer as the original log.
func (o *Orchestrator) freshErrors(ctx context.Context, st *sessionState) ([]*domain.Error, error) {
	sess := st.session

	if cmdline := o.cfg.Verification.Command; cmdline != "" {
		timeout := time.Duration(o.cfg.Verification.TimeoutSeconds) * time.Second
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(cmdCtx, "sh", "-c", cmdline)
		out, err := cmd.CombinedOutput()
		if err == nil {
			// Clean exit counts as a healthy signal regardless of output.
			return nil, nil
		}
		if cmdCtx.Err() != nil {
			return nil, fmt.Errorf("verification command timed out after %s", timeout)
		}
		return o.analyzer.Analyze(ctx, sess.ID, string(out))
	}

	if o.logs == nil {
		return nil, fmt.Errorf("no verification command and no log source configured")
	}
	rawLog, err := o.logs.FetchLogs(ctx, sess.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("fetching fresh logs: %w", err)
	}
	return o.analyzer.Analyze(ctx, sess.ID, rawLog)
}

// regression decides whether the fresh errors show the patches did not
// help: an error a patch claimed to fix recurring at the same category
// and location always counts; an error not seen before counts when it is
// at least as severe as the worst original error and the policy says new
// errors matter.
func (o *Orchestrator) regression(sess *domain.DebugSession, fresh []*domain.Error) (bool, string) {
	addressed := make(map[string]bool)
	for _, p := range appliedPatches(sess) {
		if e := sess.FindError(p.ErrorID); e != nil {
			addressed[e.DedupeKey()] = true
		}
	}

	known := make(map[string]bool, len(sess.Errors))
	worst := domain.SeverityInfo
	for _, e := range sess.Errors {
		known[e.DedupeKey()] = true
		if e.Severity.AtLeast(worst) {
			worst = e.Severity
		}
	}

	for _, e := range fresh {
		if addressed[e.DedupeKey()] {
			return true, fmt.Sprintf("error recurred: %s (%s)", e.Message, e.Category)
		}
		if known[e.DedupeKey()] {
			// A pre-existing error no patch addressed; not our regression.
			continue
		}
		if o.cfg.Verification.FailOnNewCritical && e.Severity.AtLeast(worst) {
			return true, fmt.Sprintf("new %s error: %s (%s)", e.Severity, e.Message, e.Category)
		}
	}
	return false, ""
}

// rollbackLast reverses the most recently applied patch after a
// verification regression
func (o *Orchestrator) rollbackLast(st *sessionState) {
	sess := st.session
	last := sess.LastAppliedPatch()
	if last == nil {
		return
	}

	op, err := st.applier.Rollback(last)
	if err != nil {
		slog.Error("automatic rollback failed", "session", sess.ID, "patch", last.ID, "error", err)
	}
	if err := o.store.SaveRollback(op); err != nil {
		slog.Error("persisting rollback", "session", sess.ID, "error", err)
	}
	if err := o.store.SavePatch(last); err != nil {
		slog.Error("persisting patch after rollback", "session", sess.ID, "error", err)
	}
	o.hub.Publish(sess.ID, broadcast.EventPatchRolledBack, map[string]interface{}{
		"patch_id":    last.ID,
		"rollback_id": op.ID,
		"status":      op.Status,
		"automatic":   true,
	})
}

// appliedPatches returns the patches currently applied to the tree
func appliedPatches(sess *domain.DebugSession) []*domain.PatchSolution {
	var out []*domain.PatchSolution
	for _, p := range sess.Patches {
		if p.Applied {
			out = append(out, p)
		}
	}
	return out
}
