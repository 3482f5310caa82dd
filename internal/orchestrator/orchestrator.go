// Package orchestrator drives debug sessions through their lifecycle:
// created, analyzing, awaiting-approval, patching, verifying, and the
// terminal states. Sessions run fully in parallel; inside one session the
// stages run strictly one at a time and all tree mutations are serialized
// behind a session-scoped mutex.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/selfheal/internal/analyzer"
	"github.com/hochfrequenz/selfheal/internal/applier"
	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/config"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/notify"
	"github.com/hochfrequenz/selfheal/internal/patchgen"
	"github.com/hochfrequenz/selfheal/internal/patterns"
	"github.com/hochfrequenz/selfheal/internal/sessionstore"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

// LogSource fetches pipeline logs. Implementations are CI-platform
// specific; verification uses it to pull fresh logs after patching.
type LogSource interface {
	FetchLogs(ctx context.Context, pipelineID string) (string, error)
}

// TreeProvider resolves the working tree a pipeline's patches apply to
type TreeProvider interface {
	TreeFor(pipelineID string) (worktree.Accessor, error)
}

// TreeProviderFunc adapts a function to the TreeProvider interface
type TreeProviderFunc func(pipelineID string) (worktree.Accessor, error)

func (f TreeProviderFunc) TreeFor(pipelineID string) (worktree.Accessor, error) {
	return f(pipelineID)
}

// Orchestrator owns all in-flight sessions
type Orchestrator struct {
	cfg      *config.Config
	store    *sessionstore.Store
	hub      *broadcast.Hub
	analyzer *analyzer.Analyzer
	adapter  classifier.Adapter
	library  *patterns.Library
	trees    TreeProvider
	logs     LogSource // may be nil
	cron     *cron.Cron
	sem      chan struct{}
	notifier notify.Notifier

	mu     sync.Mutex
	active map[string]*sessionState
}

// sessionState holds the per-session runtime that is not persisted
type sessionState struct {
	mu        sync.Mutex // serializes apply and rollback
	session   *domain.DebugSession
	rawLog    string
	tree      worktree.Accessor
	applier   *applier.Applier
	generator *patchgen.Generator
	cancelled atomic.Bool
}

// New creates an Orchestrator. adapter and logs may be nil; without an
// adapter unmatched segments degrade to unknown and model patches are
// skipped, without a log source verification passes on the absence of
// fresh evidence.
func New(cfg *config.Config, store *sessionstore.Store, hub *broadcast.Hub, library *patterns.Library, adapter classifier.Adapter, trees TreeProvider, logs LogSource) *Orchestrator {
	maxParallel := cfg.General.MaxParallelSessions
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		analyzer: analyzer.New(library, adapter),
		adapter:  adapter,
		library:  library,
		trees:    trees,
		logs:     logs,
		cron:     cron.New(),
		sem:      make(chan struct{}, maxParallel),
		notifier: notify.NoopNotifier{},
		active:   make(map[string]*sessionState),
	}
}

// SetNotifier installs a notifier for session outcomes. Must be called
// before Start.
func (o *Orchestrator) SetNotifier(n notify.Notifier) {
	if n != nil {
		o.notifier = n
	}
}

// Start recovers persisted sessions and begins the expiry sweep
func (o *Orchestrator) Start() error {
	if err := o.recoverSessions(); err != nil {
		return fmt.Errorf("recovering sessions: %w", err)
	}
	if _, err := o.cron.AddFunc("@every 1m", o.expireSessions); err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}
	o.cron.Start()
	return nil
}

// Stop halts background jobs. In-flight sessions are not interrupted.
func (o *Orchestrator) Stop() {
	ctx := o.cron.Stop()
	<-ctx.Done()
}

// CreateSession registers a new debug session for a pipeline failure.
// rawLog may be empty, in which case the log source is consulted.
func (o *Orchestrator) CreateSession(ctx context.Context, pipelineID, rawLog string) (*domain.DebugSession, error) {
	if rawLog == "" {
		if o.logs == nil {
			return nil, fmt.Errorf("no log provided and no log source configured")
		}
		fetched, err := o.logs.FetchLogs(ctx, pipelineID)
		if err != nil {
			return nil, fmt.Errorf("fetching logs for pipeline %s: %w", pipelineID, err)
		}
		rawLog = fetched
	}

	tree, err := o.trees.TreeFor(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("resolving working tree for pipeline %s: %w", pipelineID, err)
	}

	now := time.Now()
	sess := &domain.DebugSession{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Status:     domain.StatusCreated,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(o.cfg.General.SessionTTLHours) * time.Hour),
	}

	if err := o.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	o.register(sess, rawLog, tree)
	o.hub.Publish(sess.ID, broadcast.EventSessionCreated, map[string]interface{}{
		"pipeline_id": pipelineID,
		"expires_at":  sess.ExpiresAt,
	})
	return sess, nil
}

// register builds the runtime state for a session
func (o *Orchestrator) register(sess *domain.DebugSession, rawLog string, tree worktree.Accessor) *sessionState {
	denylist := append(append([]string{}, applier.DefaultDenylist...), o.cfg.Denylist.Paths...)
	st := &sessionState{
		session:   sess,
		rawLog:    rawLog,
		tree:      tree,
		applier:   applier.New(tree, applier.NewValidator(tree, denylist)),
		generator: patchgen.New(tree, o.adapter),
	}
	o.mu.Lock()
	o.active[sess.ID] = st
	o.mu.Unlock()
	return st
}

func (o *Orchestrator) state(id string) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.active[id]
	if !ok {
		return nil, fmt.Errorf("session %s is not active", id)
	}
	return st, nil
}

// GetSession returns the live session if one is in flight, otherwise the
// persisted record.
func (o *Orchestrator) GetSession(id string) (*domain.DebugSession, error) {
	o.mu.Lock()
	st, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		return st.session, nil
	}
	return o.store.GetSession(id)
}

// ListSessions proxies the store
func (o *Orchestrator) ListSessions(opts sessionstore.ListOptions) ([]*domain.DebugSession, error) {
	return o.store.ListSessions(opts)
}

// Patterns returns the shared read-only pattern library
func (o *Orchestrator) Patterns() *patterns.Library {
	return o.library
}

// RunSession executes the analysis phase: classify the log, persist the
// errors, generate patch candidates, and move the session to
// awaiting-approval (or straight to completed when there is nothing to
// fix). Bounded by the parallel-session semaphore.
func (o *Orchestrator) RunSession(ctx context.Context, id string) error {
	st, err := o.state(id)
	if err != nil {
		return err
	}
	sess := st.session

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := o.transition(sess, domain.StatusAnalyzing); err != nil {
		return err
	}

	errors, err := o.analyzer.Analyze(ctx, sess.ID, st.rawLog)
	if err != nil {
		// Only context cancellation escapes Analyze.
		if st.cancelled.Load() {
			return o.transition(sess, domain.StatusCancelled)
		}
		o.fail(sess, fmt.Sprintf("analysis aborted: %v", err))
		return err
	}

	sess.Errors = errors
	for _, e := range errors {
		if err := o.store.SaveError(e); err != nil {
			o.fail(sess, fmt.Sprintf("persisting error: %v", err))
			return err
		}
		o.hub.Publish(sess.ID, broadcast.EventErrorDetected, map[string]interface{}{
			"error_id":   e.ID,
			"category":   e.Category,
			"severity":   e.Severity,
			"message":    e.Message,
			"confidence": e.Confidence,
		})
	}
	o.hub.Publish(sess.ID, broadcast.EventAnalysisComplete, map[string]interface{}{
		"error_count": len(errors),
	})

	if st.cancelled.Load() {
		return o.transition(sess, domain.StatusCancelled)
	}

	for _, e := range errors {
		for _, p := range st.generator.Generate(ctx, e) {
			sess.Patches = append(sess.Patches, p)
			if err := o.store.SavePatch(p); err != nil {
				o.fail(sess, fmt.Sprintf("persisting patch: %v", err))
				return err
			}
			o.hub.Publish(sess.ID, broadcast.EventPatchGenerated, map[string]interface{}{
				"patch_id":    p.ID,
				"error_id":    p.ErrorID,
				"type":        p.Type,
				"confidence":  p.Confidence,
				"description": p.Description,
			})
		}
	}

	if len(sess.Patches) == 0 {
		// Nothing actionable; the session ends without patching.
		return o.transition(sess, domain.StatusCompleted)
	}

	if err := o.transition(sess, domain.StatusAwaitingApproval); err != nil {
		return err
	}

	if o.cfg.Approval.AutoApprove {
		if ids := o.autoApprovable(sess); len(ids) > 0 {
			return o.Approve(ctx, sess.ID, ids)
		}
	}
	return nil
}

// autoApprovable returns the pending patches whose confidence clears the
// configured threshold
func (o *Orchestrator) autoApprovable(sess *domain.DebugSession) []string {
	var ids []string
	for _, p := range sess.PendingPatches() {
		if p.Confidence >= o.cfg.Approval.MinConfidence {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// transition moves the session to next, persists it, and publishes the
// status change
func (o *Orchestrator) transition(sess *domain.DebugSession, next domain.SessionStatus) error {
	if err := sess.Transition(next); err != nil {
		return err
	}
	if err := o.store.UpdateSessionStatus(sess.ID, next); err != nil {
		return fmt.Errorf("persisting status %s: %w", next, err)
	}
	o.hub.Publish(sess.ID, broadcast.EventSessionStatus, map[string]interface{}{
		"status": next,
	})
	if next.IsTerminal() {
		o.mu.Lock()
		delete(o.active, sess.ID)
		o.mu.Unlock()
		o.notifyOutcome(sess, next, "")
	}
	return nil
}

// notifyOutcome reports a terminal session to the configured notifier.
// Delivery is asynchronous and failures only log.
func (o *Orchestrator) notifyOutcome(sess *domain.DebugSession, status domain.SessionStatus, reason string) {
	typ := notify.NotifyInfo
	msg := fmt.Sprintf("Debug session for pipeline %s ended: %s", sess.PipelineID, status)
	switch status {
	case domain.StatusCompleted:
		typ = notify.NotifySuccess
		msg = fmt.Sprintf("Pipeline %s healed: %d of %d patches applied", sess.PipelineID, len(appliedPatches(sess)), len(sess.Patches))
	case domain.StatusFailed:
		typ = notify.NotifyError
		if reason != "" {
			msg = fmt.Sprintf("Pipeline %s could not be healed: %s", sess.PipelineID, reason)
		} else {
			msg = fmt.Sprintf("Pipeline %s could not be healed", sess.PipelineID)
		}
	}
	n := notify.Notification{
		Title:      fmt.Sprintf("selfheal: session %s", status),
		Message:    msg,
		Type:       typ,
		SessionID:  sess.ID,
		PipelineID: sess.PipelineID,
	}
	go func() {
		if err := o.notifier.Send(n); err != nil {
			slog.Warn("sending notification", "session", sess.ID, "error", err)
		}
	}()
}

// fail force-transitions the session to failed with a reason in the event
// payload. Persistence errors here are logged, not returned; failed is
// the last resort state.
func (o *Orchestrator) fail(sess *domain.DebugSession, reason string) {
	if sess.Status.IsTerminal() {
		return
	}
	if err := sess.Transition(domain.StatusFailed); err != nil {
		slog.Error("failed-state transition rejected", "session", sess.ID, "error", err)
		return
	}
	if err := o.store.UpdateSessionStatus(sess.ID, domain.StatusFailed); err != nil {
		slog.Error("persisting failed status", "session", sess.ID, "error", err)
	}
	o.hub.Publish(sess.ID, broadcast.EventSessionStatus, map[string]interface{}{
		"status": domain.StatusFailed,
		"reason": reason,
	})
	o.mu.Lock()
	delete(o.active, sess.ID)
	o.mu.Unlock()
	o.notifyOutcome(sess, domain.StatusFailed, reason)
}
