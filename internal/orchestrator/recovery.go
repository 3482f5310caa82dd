package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/domain"
)

// recoverSessions reconciles persisted non-terminal sessions after a
// restart. Sessions caught mid-analysis or mid-patching lost their
// in-memory runtime and are failed; awaiting-approval sessions keep all
// their state in the store and are re-armed so approval still works.
func (o *Orchestrator) recoverSessions() error {
	sessions, err := o.store.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("listing active sessions: %w", err)
	}

	for _, sess := range sessions {
		switch sess.Status {
		case domain.StatusAwaitingApproval:
			// ListActiveSessions scans only session rows; approval needs
			// the persisted errors and patches.
			full, err := o.store.GetSession(sess.ID)
			if err != nil {
				o.fail(sess, fmt.Sprintf("loading session state after restart: %v", err))
				continue
			}
			tree, err := o.trees.TreeFor(full.PipelineID)
			if err != nil {
				slog.Warn("cannot re-arm session, working tree unavailable",
					"session", full.ID, "pipeline", full.PipelineID, "error", err)
				o.fail(full, fmt.Sprintf("working tree unavailable after restart: %v", err))
				continue
			}
			o.register(full, "", tree)
			slog.Info("re-armed session awaiting approval", "session", full.ID)
		default:
			interrupted := sess.Status
			o.fail(sess, fmt.Sprintf("interrupted in %s by restart", interrupted))
			slog.Info("failed interrupted session", "session", sess.ID, "status", interrupted)
		}
	}
	return nil
}

// expireSessions force-cancels sessions past their expiry deadline
func (o *Orchestrator) expireSessions() {
	sessions, err := o.store.ListActiveSessions()
	if err != nil {
		slog.Error("expiry sweep: listing sessions", "error", err)
		return
	}

	now := time.Now()
	for _, stored := range sessions {
		if !stored.Expired(now) {
			continue
		}

		// Prefer the live session; a stored row may lag behind it.
		o.mu.Lock()
		st, live := o.active[stored.ID]
		o.mu.Unlock()

		if live {
			st.cancelled.Store(true)
			if !st.mu.TryLock() {
				// An apply is in flight; the flag is honored at the next
				// patch boundary.
				continue
			}
			sess := st.session
			if !sess.Status.IsTerminal() {
				o.hub.Publish(sess.ID, broadcast.EventSessionExpired, map[string]interface{}{
					"expired_at": sess.ExpiresAt,
				})
				if err := o.transition(sess, domain.StatusCancelled); err != nil {
					slog.Error("expiring session", "session", sess.ID, "error", err)
				}
			}
			st.mu.Unlock()
			continue
		}

		o.hub.Publish(stored.ID, broadcast.EventSessionExpired, map[string]interface{}{
			"expired_at": stored.ExpiresAt,
		})
		if err := o.store.UpdateSessionStatus(stored.ID, domain.StatusCancelled); err != nil {
			slog.Error("expiring session", "session", stored.ID, "error", err)
		}
	}
}
