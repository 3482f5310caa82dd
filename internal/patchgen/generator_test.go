package patchgen

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

type fakeAdapter struct {
	proposal *classifier.PatchProposal
	err      error
	calls    int
}

func (f *fakeAdapter) Classify(context.Context, string) (classifier.Classification, error) {
	return classifier.Classification{}, nil
}

func (f *fakeAdapter) GeneratePatch(context.Context, *domain.Error) (*classifier.PatchProposal, error) {
	f.calls++
	return f.proposal, f.err
}

func newTree(t *testing.T, files map[string]string) *worktree.Dir {
	t.Helper()
	tree, err := worktree.NewDir(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for path, content := range files {
		if err := tree.Write(path, content); err != nil {
			t.Fatal(err)
		}
	}
	return tree
}

func TestGenerate_DependencyTemplate(t *testing.T) {
	tree := newTree(t, map[string]string{
		"package.json": "{\n  \"dependencies\": {\n    \"react\": \"^18.0.0\"\n  }\n}\n",
	})
	fake := &fakeAdapter{}
	g := New(tree, fake)

	e := &domain.Error{
		ID:          "e1",
		SessionID:   "s1",
		Category:    domain.CategoryDependency,
		Message:     "npm ERR! peer dep missing react-router",
		AutoFixable: true,
		Confidence:  1.0,
		Source:      domain.SourcePattern,
	}
	candidates := g.Generate(context.Background(), e)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}

	p := candidates[0]
	if p.Type != domain.PatchTemplate {
		t.Errorf("Type = %s, want template", p.Type)
	}
	if len(p.Diff) != 1 || p.Diff[0].Path != "package.json" {
		t.Fatalf("Diff = %+v, want one package.json edit", p.Diff)
	}
	if !strings.Contains(p.Diff[0].After, `"react-router"`) {
		t.Errorf("edit does not add react-router: %q", p.Diff[0].After)
	}
	if !p.IsReversible {
		t.Error("template patches should be reversible")
	}
	if fake.calls != 0 {
		t.Errorf("adapter called %d times on the template branch", fake.calls)
	}
}

func TestGenerate_ConfigTemplate(t *testing.T) {
	tree := newTree(t, map[string]string{".env.example": "PORT=8080\n"})
	g := New(tree, nil)

	e := &domain.Error{
		ID:          "e1",
		Category:    domain.CategoryConfiguration,
		Message:     "missing required environment variable DATABASE_URL",
		AutoFixable: true,
	}
	candidates := g.Generate(context.Background(), e)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	if !strings.Contains(candidates[0].Diff[0].After, "DATABASE_URL=") {
		t.Errorf("edit does not document the variable: %q", candidates[0].Diff[0].After)
	}
}

func TestGenerate_ModelFallback(t *testing.T) {
	tree := newTree(t, nil)
	fake := &fakeAdapter{proposal: &classifier.PatchProposal{
		Description: "bump the node version",
		UnifiedDiff: "--- a/Dockerfile\n+++ b/Dockerfile\n@@ -1,1 +1,1 @@\n-FROM node:14\n+FROM node:20\n",
		Confidence:  0.6,
	}}
	g := New(tree, fake)

	e := &domain.Error{ID: "e1", Category: domain.CategoryBuild, AutoFixable: false}
	candidates := g.Generate(context.Background(), e)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}

	p := candidates[0]
	if p.Type != domain.PatchModelGenerated {
		t.Errorf("Type = %s, want model-generated", p.Type)
	}
	if len(p.Diff) != 1 {
		t.Fatalf("Diff = %+v, want one edit", p.Diff)
	}
	if p.Diff[0].Path != "Dockerfile" || p.Diff[0].Before != "FROM node:14" || p.Diff[0].After != "FROM node:20" {
		t.Errorf("edit = %+v", p.Diff[0])
	}
}

func TestGenerate_AdapterUnavailableMeansZeroCandidates(t *testing.T) {
	tree := newTree(t, nil)
	fake := &fakeAdapter{err: fmt.Errorf("service down")}
	g := New(tree, fake)

	e := &domain.Error{ID: "e1", Category: domain.CategoryNetwork, AutoFixable: false}
	if candidates := g.Generate(context.Background(), e); len(candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(candidates))
	}
}

func TestGenerate_EmptyProposalMeansZeroCandidates(t *testing.T) {
	tree := newTree(t, nil)
	g := New(tree, &fakeAdapter{proposal: nil})

	e := &domain.Error{ID: "e1", Category: domain.CategoryUnknown}
	if candidates := g.Generate(context.Background(), e); len(candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(candidates))
	}
}

func TestGenerate_NoDoubleDependency(t *testing.T) {
	tree := newTree(t, map[string]string{
		"package.json": "{\n  \"dependencies\": {\n    \"react-router\": \"^6.0.0\"\n  }\n}\n",
	})
	g := New(tree, nil)

	e := &domain.Error{
		ID:          "e1",
		Category:    domain.CategoryDependency,
		Message:     "npm ERR! peer dep missing react-router",
		AutoFixable: true,
	}
	if candidates := g.Generate(context.Background(), e); len(candidates) != 0 {
		t.Errorf("already-declared dependency should yield no template patch, got %d", len(candidates))
	}
}

func TestParseUnifiedDiff_MultiHunk(t *testing.T) {
	text := `--- a/src/app.js
+++ b/src/app.js
@@ -1,3 +1,3 @@
 const a = 1
-const b = 2
+const b = 3
 const c = 4
@@ -10,2 +10,2 @@
 function main() {
-  run(b)
+  run(b, c)
`
	edits, err := ParseUnifiedDiff(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 2 {
		t.Fatalf("edits = %d, want 2", len(edits))
	}
	if edits[0].Path != "src/app.js" || edits[0].Line != 1 {
		t.Errorf("edit 0 = %+v", edits[0])
	}
	if edits[0].Before != "const a = 1\nconst b = 2\nconst c = 4" {
		t.Errorf("edit 0 before = %q", edits[0].Before)
	}
	if edits[0].After != "const a = 1\nconst b = 3\nconst c = 4" {
		t.Errorf("edit 0 after = %q", edits[0].After)
	}
	if edits[1].Line != 10 {
		t.Errorf("edit 1 line = %d, want 10", edits[1].Line)
	}
}

func TestParseUnifiedDiff_Garbage(t *testing.T) {
	if edits, err := ParseUnifiedDiff("this is not a diff at all"); err == nil && len(edits) > 0 {
		t.Errorf("garbage input produced edits: %+v", edits)
	}
}
