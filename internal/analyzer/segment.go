package analyzer

import (
	"regexp"
	"strings"
)

// failureMarker flags log lines worth building a segment around: error and
// fatal tokens, stack frames, tracebacks, and non-zero exit codes.
var failureMarker = regexp.MustCompile(
	`(?i)\b(error|fatal|panic|fail(ed|ure)?)\b|npm ERR!|exit (code|status) [1-9]\d*|^\s+at\s|^Traceback`)

// Segment is a window of log lines around one or more failure markers
type Segment struct {
	StartLine int // zero-based index of the first line in the raw log
	Text      string
}

// DefaultWindow is the number of context lines kept on each side of a marker
const DefaultWindow = 3

// Split cuts a raw log into segments: a sliding window of context lines
// around each failure marker, with overlapping windows merged into one
// segment. Segments are returned in log order.
func Split(rawLog string, window int) []Segment {
	if window <= 0 {
		window = DefaultWindow
	}
	lines := strings.Split(rawLog, "\n")

	var marked []int
	for i, line := range lines {
		if failureMarker.MatchString(line) {
			marked = append(marked, i)
		}
	}
	if len(marked) == 0 {
		return nil
	}

	type span struct{ start, end int }
	var spans []span
	for _, m := range marked {
		start := m - window
		if start < 0 {
			start = 0
		}
		end := m + window
		if end >= len(lines) {
			end = len(lines) - 1
		}
		if len(spans) > 0 && start <= spans[len(spans)-1].end+1 {
			if end > spans[len(spans)-1].end {
				spans[len(spans)-1].end = end
			}
			continue
		}
		spans = append(spans, span{start, end})
	}

	segments := make([]Segment, 0, len(spans))
	for _, sp := range spans {
		segments = append(segments, Segment{
			StartLine: sp.start,
			Text:      strings.Join(lines[sp.start:sp.end+1], "\n"),
		})
	}
	return segments
}
