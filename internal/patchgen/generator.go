// Package patchgen produces candidate fixes for classified errors:
// deterministic template-based patches first, model-generated patches as
// the lower-trust fallback.
package patchgen

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

// Generator turns Errors into ranked PatchSolution candidates
type Generator struct {
	templates map[domain.ErrorCategory]Template
	adapter   classifier.Adapter // nil disables model generation
	tree      worktree.Accessor
}

// New creates a Generator. adapter may be nil.
func New(tree worktree.Accessor, adapter classifier.Adapter) *Generator {
	return &Generator{
		templates: DefaultTemplates(),
		adapter:   adapter,
		tree:      tree,
	}
}

// Generate produces zero or more candidates for an error. Zero candidates
// is a valid terminal state, not an error: adapter unavailability and
// empty proposals are absorbed here. Results are ranked template-based
// first, then model-generated by the adapter's confidence.
func (g *Generator) Generate(ctx context.Context, e *domain.Error) []*domain.PatchSolution {
	var candidates []*domain.PatchSolution

	// Template branch: deterministic, never touches the network.
	if e.AutoFixable {
		if tmpl, ok := g.templates[e.Category]; ok {
			if edits := tmpl.Build(e, g.tree); len(edits) > 0 {
				candidates = append(candidates, &domain.PatchSolution{
					ID:           uuid.NewString(),
					ErrorID:      e.ID,
					SessionID:    e.SessionID,
					Type:         domain.PatchTemplate,
					Description:  tmpl.Description(e),
					Diff:         edits,
					Confidence:   1.0,
					IsReversible: true,
				})
			}
		}
	}

	// Model branch: only when the template branch produced nothing.
	if len(candidates) == 0 && g.adapter != nil {
		if p := g.modelCandidate(ctx, e); p != nil {
			candidates = append(candidates, p)
		}
	}

	rank(candidates)
	return candidates
}

func (g *Generator) modelCandidate(ctx context.Context, e *domain.Error) *domain.PatchSolution {
	proposal, err := g.adapter.GeneratePatch(ctx, e)
	if err != nil {
		slog.Warn("patch generation unavailable", "error_id", e.ID, "error", err)
		return nil
	}
	if proposal == nil || proposal.UnifiedDiff == "" {
		return nil
	}

	edits, err := ParseUnifiedDiff(proposal.UnifiedDiff)
	if err != nil || len(edits) == 0 {
		slog.Warn("discarding unparseable model diff", "error_id", e.ID, "error", err)
		return nil
	}

	return &domain.PatchSolution{
		ID:           uuid.NewString(),
		ErrorID:      e.ID,
		SessionID:    e.SessionID,
		Type:         domain.PatchModelGenerated,
		Description:  proposal.Description,
		Diff:         edits,
		Confidence:   proposal.Confidence,
		IsReversible: true,
	}
}

// rank orders candidates template-based first, then by confidence
func rank(candidates []*domain.PatchSolution) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ti := candidates[i].Type == domain.PatchTemplate
		tj := candidates[j].Type == domain.PatchTemplate
		if ti != tj {
			return ti
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
}
