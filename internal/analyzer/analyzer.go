// Package analyzer turns raw pipeline failure logs into classified Error
// records. Pattern matching runs first; segments no pattern recognizes are
// handed to the external classifier adapter, and adapter failures degrade
// the segment to the unknown category instead of aborting the analysis.
package analyzer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/patterns"
)

// maxExcerptLen bounds the raw log excerpt stored per error
const maxExcerptLen = 2000

// Analyzer classifies log segments using the pattern library first and the
// classifier adapter as fallback. Safe for concurrent use across sessions.
type Analyzer struct {
	library     *patterns.Library
	adapter     classifier.Adapter // nil disables the model fallback
	window      int
	maxParallel int
}

// New creates an Analyzer. adapter may be nil, in which case unmatched
// segments degrade straight to the unknown category.
func New(library *patterns.Library, adapter classifier.Adapter) *Analyzer {
	return &Analyzer{
		library:     library,
		adapter:     adapter,
		window:      DefaultWindow,
		maxParallel: 4,
	}
}

// Analyze classifies rawLog into Error records for the given session.
// Errors come back in the order their source segments appear in the log;
// duplicates (same category and location) are merged keeping the highest
// confidence. The context is honored between segments, never mid-call.
func (a *Analyzer) Analyze(ctx context.Context, sessionID, rawLog string) ([]*domain.Error, error) {
	segments := Split(rawLog, a.window)
	if len(segments) == 0 {
		return nil, nil
	}

	results := make([]*domain.Error, len(segments))

	// Pattern pass first: pattern-matched segments are never re-submitted
	// to the adapter.
	var unmatched []int
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m := a.library.Match(seg.Text); m != nil {
			results[i] = a.patternError(sessionID, seg, m)
		} else {
			unmatched = append(unmatched, i)
		}
	}

	if len(unmatched) > 0 {
		a.classifyBatch(ctx, sessionID, segments, unmatched, results)
	}

	return dedupe(results), nil
}

// classifyBatch sends unmatched segments to the adapter with bounded
// parallelism. Per-segment failures degrade that segment; they never
// propagate.
func (a *Analyzer) classifyBatch(ctx context.Context, sessionID string, segments []Segment, unmatched []int, results []*domain.Error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)

	for _, idx := range unmatched {
		g.Go(func() error {
			results[idx] = a.modelError(ctx, sessionID, segments[idx])
			return nil
		})
	}
	g.Wait()
}

func (a *Analyzer) patternError(sessionID string, seg Segment, m *patterns.Match) *domain.Error {
	return &domain.Error{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Category:      m.Pattern.Category,
		Severity:      m.Pattern.Severity,
		Message:       m.Message,
		RawLogExcerpt: excerpt(seg.Text),
		Location:      m.Location,
		Confidence:    1.0,
		AutoFixable:   m.Pattern.AutoFixable,
		Source:        domain.SourcePattern,
		DetectedAt:    time.Now(),
	}
}

func (a *Analyzer) modelError(ctx context.Context, sessionID string, seg Segment) *domain.Error {
	e := &domain.Error{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Category:      domain.CategoryUnknown,
		Severity:      domain.SeverityInfo,
		Message:       firstLine(seg.Text),
		RawLogExcerpt: excerpt(seg.Text),
		Confidence:    0,
		AutoFixable:   false,
		Source:        domain.SourceModel,
		DetectedAt:    time.Now(),
	}

	if a.adapter == nil {
		return e
	}

	c, err := a.adapter.Classify(ctx, seg.Text)
	if err != nil {
		slog.Warn("segment classification degraded to unknown",
			"session", sessionID, "line", seg.StartLine, "error", err)
		return e
	}

	e.Category = c.Category
	e.Severity = c.Severity
	e.Confidence = c.Confidence
	return e
}

// dedupe merges duplicate errors within one pass, keeping the highest
// confidence and preserving first-occurrence order.
func dedupe(errors []*domain.Error) []*domain.Error {
	seen := make(map[string]*domain.Error)
	var out []*domain.Error
	for _, e := range errors {
		if e == nil {
			continue
		}
		key := e.DedupeKey()
		if prev, ok := seen[key]; ok {
			if e.Confidence > prev.Confidence {
				*prev = *e
			}
			continue
		}
		seen[key] = e
		out = append(out, e)
	}
	return out
}

func excerpt(text string) string {
	if len(text) > maxExcerptLen {
		return text[:maxExcerptLen]
	}
	return text
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return text
}
