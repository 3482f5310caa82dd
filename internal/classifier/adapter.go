// Package classifier wraps the external text-classification and patch
// generation service behind a narrow adapter interface. Adapter failures
// are always recoverable for callers: the analyzer degrades unmatched
// segments to the unknown category and the generator produces zero
// candidates.
package classifier

import (
	"context"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

// Classification is the adapter's verdict for one log segment
type Classification struct {
	Category   domain.ErrorCategory
	Severity   domain.Severity
	Confidence float64
}

// PatchProposal is a model-generated fix candidate. The diff is a unified
// diff as returned by the service and is parsed downstream.
type PatchProposal struct {
	Description string
	UnifiedDiff string
	Confidence  float64
}

// Adapter is the boundary call to the external categorization and
// generation service. Implementations must be stateless and safe for
// concurrent use.
type Adapter interface {
	// Classify categorizes one log segment. Errors are treated by callers
	// as degradation, never as session failure.
	Classify(ctx context.Context, segment string) (Classification, error)

	// GeneratePatch proposes a free-form fix for an error. A nil proposal
	// with nil error means the service had no fix to offer.
	GeneratePatch(ctx context.Context, e *domain.Error) (*PatchProposal, error)
}
