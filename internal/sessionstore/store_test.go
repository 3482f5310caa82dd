package sessionstore

import (
	"testing"
	"time"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndGetSession(t *testing.T) {
	store := newStore(t)

	sess := &domain.DebugSession{
		ID:         "s1",
		PipelineID: "pipeline-42",
		Status:     domain.StatusCreated,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.SaveSession(sess); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PipelineID != "pipeline-42" {
		t.Errorf("PipelineID = %q", got.PipelineID)
	}
	if got.Status != domain.StatusCreated {
		t.Errorf("Status = %s", got.Status)
	}
}

func TestStore_SessionWithChildren(t *testing.T) {
	store := newStore(t)

	sess := &domain.DebugSession{ID: "s1", PipelineID: "p1", Status: domain.StatusAnalyzing, CreatedAt: time.Now()}
	if err := store.SaveSession(sess); err != nil {
		t.Fatal(err)
	}

	e := &domain.Error{
		ID:          "e1",
		SessionID:   "s1",
		Category:    domain.CategoryDependency,
		Severity:    domain.SeverityHigh,
		Message:     "npm ERR! peer dep missing react-router",
		Location:    &domain.Location{File: "package.json", Line: 12},
		Confidence:  1.0,
		AutoFixable: true,
		Source:      domain.SourcePattern,
		DetectedAt:  time.Now(),
	}
	if err := store.SaveError(e); err != nil {
		t.Fatal(err)
	}

	p := &domain.PatchSolution{
		ID:           "patch-1",
		ErrorID:      "e1",
		SessionID:    "s1",
		Type:         domain.PatchTemplate,
		Description:  "add missing dependency",
		Diff:         []domain.FileEdit{{Path: "package.json", Before: "a", After: "b"}},
		Confidence:   1.0,
		IsReversible: true,
	}
	if err := store.SavePatch(p); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(got.Errors))
	}
	if got.Errors[0].Location == nil || got.Errors[0].Location.File != "package.json" {
		t.Errorf("Location = %v", got.Errors[0].Location)
	}
	if got.Errors[0].Confidence != 1.0 {
		t.Errorf("Confidence = %f", got.Errors[0].Confidence)
	}
	if len(got.Patches) != 1 {
		t.Fatalf("Patches = %d, want 1", len(got.Patches))
	}
	if len(got.Patches[0].Diff) != 1 || got.Patches[0].Diff[0].Path != "package.json" {
		t.Errorf("Diff = %+v", got.Patches[0].Diff)
	}
	if got.Patches[0].Success != nil {
		t.Error("Success should be nil before any apply attempt")
	}
}

func TestStore_CountChildren(t *testing.T) {
	store := newStore(t)

	for _, id := range []string{"s1", "s2"} {
		sess := &domain.DebugSession{ID: id, PipelineID: "p-" + id, Status: domain.StatusAnalyzing, CreatedAt: time.Now()}
		if err := store.SaveSession(sess); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		e := &domain.Error{
			ID:        "e" + string(rune('1'+i)),
			SessionID: "s1",
			Category:  domain.CategoryDependency,
			Severity:  domain.SeverityHigh,
			Message:   "boom",
			Source:    domain.SourcePattern,
		}
		if err := store.SaveError(e); err != nil {
			t.Fatal(err)
		}
	}
	p := &domain.PatchSolution{ID: "patch-1", ErrorID: "e1", SessionID: "s1", Type: domain.PatchTemplate}
	if err := store.SavePatch(p); err != nil {
		t.Fatal(err)
	}

	counts, err := store.CountChildren()
	if err != nil {
		t.Fatal(err)
	}
	if c := counts["s1"]; c.Errors != 3 || c.Patches != 1 {
		t.Errorf("s1 counts = %+v, want 3 errors and 1 patch", c)
	}
	if c, ok := counts["s2"]; ok {
		t.Errorf("s2 should have no counts, got %+v", c)
	}
}

func TestStore_PatchLifecycleUpdates(t *testing.T) {
	store := newStore(t)

	sess := &domain.DebugSession{ID: "s1", PipelineID: "p1", Status: domain.StatusPatching, CreatedAt: time.Now()}
	store.SaveSession(sess)
	store.SaveError(&domain.Error{ID: "e1", SessionID: "s1", Category: domain.CategoryBuild,
		Severity: domain.SeverityHigh, Message: "m", Source: domain.SourcePattern, DetectedAt: time.Now()})

	p := &domain.PatchSolution{
		ID: "patch-1", ErrorID: "e1", SessionID: "s1", Type: domain.PatchTemplate,
		Diff: []domain.FileEdit{{Path: "f", Before: "a", After: "b"}}, IsReversible: true,
	}
	if err := store.SavePatch(p); err != nil {
		t.Fatal(err)
	}

	if err := p.MarkApplied("snap-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.SavePatch(p); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	gp := got.Patches[0]
	if !gp.Applied || gp.Success == nil || !*gp.Success {
		t.Errorf("patch state not persisted: applied=%v success=%v", gp.Applied, gp.Success)
	}
	if gp.RollbackToken != "snap-1" {
		t.Errorf("RollbackToken = %q", gp.RollbackToken)
	}
	if gp.AppliedAt == nil {
		t.Error("AppliedAt should be set")
	}
}

func TestStore_ListSessionsFilters(t *testing.T) {
	store := newStore(t)

	now := time.Now()
	sessions := []*domain.DebugSession{
		{ID: "s1", PipelineID: "p1", Status: domain.StatusCompleted, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "s2", PipelineID: "p1", Status: domain.StatusAnalyzing, CreatedAt: now.Add(-time.Hour)},
		{ID: "s3", PipelineID: "p2", Status: domain.StatusAnalyzing, CreatedAt: now},
	}
	for _, sess := range sessions {
		if err := store.SaveSession(sess); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListSessions(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
	if all[0].ID != "s3" {
		t.Errorf("newest first, got %s", all[0].ID)
	}

	byPipeline, err := store.ListSessions(ListOptions{PipelineID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byPipeline) != 2 {
		t.Errorf("p1 sessions = %d, want 2", len(byPipeline))
	}

	active, err := store.ListActiveSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("active = %d, want 2", len(active))
	}
}

func TestStore_Rollbacks(t *testing.T) {
	store := newStore(t)

	store.SaveSession(&domain.DebugSession{ID: "s1", PipelineID: "p1", Status: domain.StatusPatching, CreatedAt: time.Now()})
	store.SaveError(&domain.Error{ID: "e1", SessionID: "s1", Category: domain.CategoryBuild,
		Severity: domain.SeverityHigh, Message: "m", Source: domain.SourcePattern, DetectedAt: time.Now()})
	store.SavePatch(&domain.PatchSolution{ID: "patch-1", ErrorID: "e1", SessionID: "s1",
		Type: domain.PatchTemplate, Diff: []domain.FileEdit{{Path: "f"}}})

	now := time.Now()
	op := &domain.RollbackOperation{
		ID:          "rb-1",
		PatchID:     "patch-1",
		Status:      domain.RollbackCompleted,
		SnapshotRef: "snap-1",
		CompletedAt: &now,
	}
	if err := store.SaveRollback(op); err != nil {
		t.Fatal(err)
	}

	ops, err := store.ListRollbacks("patch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("rollbacks = %d, want 1", len(ops))
	}
	if ops[0].Status != domain.RollbackCompleted || ops[0].SnapshotRef != "snap-1" {
		t.Errorf("rollback = %+v", ops[0])
	}
}

func TestStore_Timeline(t *testing.T) {
	store := newStore(t)
	store.SaveSession(&domain.DebugSession{ID: "s1", PipelineID: "p1", Status: domain.StatusCreated, CreatedAt: time.Now()})

	for _, evType := range []string{"session.created", "error.detected", "analysis.complete"} {
		if err := store.AppendEvent("s1", evType, []byte(`{"n":1}`)); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.ListTimeline("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].EventType != "session.created" || events[2].EventType != "analysis.complete" {
		t.Errorf("append order not preserved: %s ... %s", events[0].EventType, events[2].EventType)
	}

	capped, err := store.ListTimeline("s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 {
		t.Errorf("capped = %d, want 2", len(capped))
	}
}
