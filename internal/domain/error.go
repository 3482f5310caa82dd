package domain

import (
	"fmt"
	"time"
)

// Location points at the file and line an error originates from
type Location struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
}

// String returns the canonical file:line representation
func (l Location) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Error represents one detected problem in a pipeline failure log
type Error struct {
	ID            string
	SessionID     string
	Category      ErrorCategory
	Severity      Severity
	Message       string
	RawLogExcerpt string
	Location      *Location
	Confidence    float64 // pattern matches are always 1.0
	AutoFixable   bool
	Source        ClassificationSource
	DetectedAt    time.Time
}

// DedupeKey identifies duplicate errors within one analysis pass
// (same category at the same location)
func (e *Error) DedupeKey() string {
	loc := ""
	if e.Location != nil {
		loc = e.Location.String()
	}
	return string(e.Category) + "|" + loc
}
