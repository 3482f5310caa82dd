package analyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/patterns"
)

// fakeAdapter is a scripted classifier for tests
type fakeAdapter struct {
	classification classifier.Classification
	err            error
	calls          int
	seen           []string
}

func (f *fakeAdapter) Classify(_ context.Context, segment string) (classifier.Classification, error) {
	f.calls++
	f.seen = append(f.seen, segment)
	return f.classification, f.err
}

func (f *fakeAdapter) GeneratePatch(context.Context, *domain.Error) (*classifier.PatchProposal, error) {
	return nil, nil
}

func TestSplit_WindowsAroundMarkers(t *testing.T) {
	log := strings.Join([]string{
		"step 1 ok",
		"step 2 ok",
		"step 3 ok",
		"step 4 ok",
		"ERROR: something broke",
		"detail line",
		"step 5 ok",
		"step 6 ok",
		"step 7 ok",
		"step 8 ok",
		"step 9 ok",
	}, "\n")

	segments := Split(log, 2)
	if len(segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(segments))
	}
	if segments[0].StartLine != 2 {
		t.Errorf("StartLine = %d, want 2", segments[0].StartLine)
	}
	if !strings.Contains(segments[0].Text, "ERROR: something broke") {
		t.Errorf("segment missing marker line: %q", segments[0].Text)
	}
}

func TestSplit_MergesOverlappingWindows(t *testing.T) {
	log := "ok\nERROR: first\nok\nFATAL: second\nok\nok\nok\nok\nok\nok\nERROR: third\nok"
	segments := Split(log, 2)
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2 (first two markers merged)", len(segments))
	}
	if !strings.Contains(segments[0].Text, "first") || !strings.Contains(segments[0].Text, "second") {
		t.Errorf("first segment should span both early markers: %q", segments[0].Text)
	}
}

func TestSplit_CleanLog(t *testing.T) {
	if segments := Split("all good\nnothing to see", 3); segments != nil {
		t.Errorf("clean log should produce no segments, got %d", len(segments))
	}
}

func TestAnalyze_PatternMatchedNeverHitsAdapter(t *testing.T) {
	fake := &fakeAdapter{}
	a := New(patterns.Default(), fake)

	errs, err := a.Analyze(context.Background(), "s1", "npm ERR! peer dep missing react-router")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}

	e := errs[0]
	if e.Category != domain.CategoryDependency {
		t.Errorf("Category = %s, want dependency", e.Category)
	}
	if e.Confidence != 1.0 {
		t.Errorf("Confidence = %f, want 1.0", e.Confidence)
	}
	if e.Source != domain.SourcePattern {
		t.Errorf("Source = %s, want pattern", e.Source)
	}
	if !e.AutoFixable {
		t.Error("peer dep error should be auto-fixable")
	}
	if fake.calls != 0 {
		t.Errorf("adapter called %d times for a pattern-matched segment", fake.calls)
	}
}

func TestAnalyze_DeterministicForPatternOnlyLogs(t *testing.T) {
	log := strings.Join([]string{
		"npm ERR! peer dep missing react-router",
		"ok", "ok", "ok", "ok", "ok", "ok", "ok",
		"ERROR: connection refused by registry",
		"ok", "ok", "ok", "ok", "ok", "ok", "ok",
		"--- FAIL: TestCheckout (0.01s)",
	}, "\n")

	a := New(patterns.Default(), nil)
	first, err := a.Analyze(context.Background(), "s1", log)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("errors = %d, want 3", len(first))
	}

	for run := 0; run < 5; run++ {
		got, err := a.Analyze(context.Background(), "s1", log)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(first) {
			t.Fatalf("run %d: errors = %d, want %d", run, len(got), len(first))
		}
		for i := range got {
			if got[i].Category != first[i].Category || got[i].Message != first[i].Message {
				t.Fatalf("run %d: result %d differs: %s vs %s", run, i, got[i].Category, first[i].Category)
			}
		}
	}
}

func TestAnalyze_AdapterFailureDegradesToUnknown(t *testing.T) {
	fake := &fakeAdapter{err: fmt.Errorf("timeout")}
	a := New(patterns.Default(), fake)

	// "unrecognized failure" trips the marker but matches no pattern
	errs, err := a.Analyze(context.Background(), "s1", "completely unrecognized failure xyz")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}

	e := errs[0]
	if e.Category != domain.CategoryUnknown {
		t.Errorf("Category = %s, want unknown", e.Category)
	}
	if e.Confidence != 0 {
		t.Errorf("Confidence = %f, want 0", e.Confidence)
	}
	if e.AutoFixable {
		t.Error("degraded error must not be auto-fixable")
	}
}

func TestAnalyze_AdapterClassifiesUnmatchedSegments(t *testing.T) {
	fake := &fakeAdapter{classification: classifier.Classification{
		Category:   domain.CategoryDeployment,
		Severity:   domain.SeverityHigh,
		Confidence: 0.7,
	}}
	a := New(patterns.Default(), fake)

	errs, err := a.Analyze(context.Background(), "s1", "mysterious failure in stage promote")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	if errs[0].Category != domain.CategoryDeployment {
		t.Errorf("Category = %s, want deployment", errs[0].Category)
	}
	if errs[0].Source != domain.SourceModel {
		t.Errorf("Source = %s, want model", errs[0].Source)
	}
	if fake.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", fake.calls)
	}
}

func TestAnalyze_MergesDuplicatesKeepingHighestConfidence(t *testing.T) {
	log := strings.Join([]string{
		"SyntaxError: bad token in src/app.js:42",
		"ok", "ok", "ok", "ok", "ok", "ok", "ok",
		"compilation error near src/app.js:42",
	}, "\n")

	a := New(patterns.Default(), nil)
	errs, err := a.Analyze(context.Background(), "s1", log)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1 (duplicates merged)", len(errs))
	}
	if errs[0].Confidence != 1.0 {
		t.Errorf("Confidence = %f, want 1.0", errs[0].Confidence)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(patterns.Default(), nil)
	if _, err := a.Analyze(ctx, "s1", "ERROR: broken"); err == nil {
		t.Error("expected context error")
	}
}
