package domain

// ErrorCategory classifies a detected error
type ErrorCategory string

const (
	CategoryDependency    ErrorCategory = "dependency"
	CategoryPermission    ErrorCategory = "permission"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryResource      ErrorCategory = "resource"
	CategoryBuild         ErrorCategory = "build"
	CategoryTest          ErrorCategory = "test"
	CategoryDeployment    ErrorCategory = "deployment"
	CategorySecurity      ErrorCategory = "security"
	CategoryUnknown       ErrorCategory = "unknown"
)

// Categories lists all error categories in classification priority order
// (most specific first, unknown last)
var Categories = []ErrorCategory{
	CategorySecurity,
	CategoryDependency,
	CategoryPermission,
	CategoryConfiguration,
	CategoryNetwork,
	CategoryResource,
	CategoryBuild,
	CategoryTest,
	CategoryDeployment,
	CategoryUnknown,
}

// ParseCategory converts a string to an ErrorCategory, falling back to unknown
func ParseCategory(s string) ErrorCategory {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryUnknown
}

// Severity represents how serious an error is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns an ordering value for severity comparison (critical highest)
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is equal-or-higher severity than other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ClassificationSource records how an error was classified
type ClassificationSource string

const (
	SourcePattern ClassificationSource = "pattern"
	SourceModel   ClassificationSource = "model"
)

// PatchType distinguishes deterministic template fixes from model output
type PatchType string

const (
	PatchTemplate       PatchType = "template"
	PatchModelGenerated PatchType = "model-generated"
)

// SessionStatus represents the lifecycle state of a debug session
type SessionStatus string

const (
	StatusCreated          SessionStatus = "created"
	StatusAnalyzing        SessionStatus = "analyzing"
	StatusAwaitingApproval SessionStatus = "awaiting-approval"
	StatusPatching         SessionStatus = "patching"
	StatusVerifying        SessionStatus = "verifying"
	StatusCompleted        SessionStatus = "completed"
	StatusFailed           SessionStatus = "failed"
	StatusCancelled        SessionStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RollbackStatus represents the state of a rollback operation
type RollbackStatus string

const (
	RollbackPending   RollbackStatus = "pending"
	RollbackCompleted RollbackStatus = "completed"
	RollbackFailed    RollbackStatus = "failed"
)

// RejectedReason explains why the validator refused a patch
type RejectedReason string

const (
	RejectedStale         RejectedReason = "stale"
	RejectedMissingFile   RejectedReason = "missing-file"
	RejectedForbiddenPath RejectedReason = "forbidden-path"
)
