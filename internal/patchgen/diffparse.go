package patchgen

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

// ParseUnifiedDiff converts a unified diff returned by the generation
// adapter into the engine's ordered edit list. Each hunk becomes one edit
// replacing the hunk's original lines with its new lines at the original
// start line.
func ParseUnifiedDiff(text string) ([]domain.FileEdit, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	var edits []domain.FileEdit
	for _, fd := range fileDiffs {
		path := diffPath(fd)
		if path == "" {
			return nil, fmt.Errorf("diff entry has no usable file name")
		}
		for _, hunk := range fd.Hunks {
			before, after := hunkSides(string(hunk.Body))
			edits = append(edits, domain.FileEdit{
				Path:   path,
				Line:   int(hunk.OrigStartLine),
				Before: before,
				After:  after,
			})
		}
	}
	return edits, nil
}

// diffPath prefers the new name and strips the conventional a/ b/ prefixes
func diffPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	if name == "/dev/null" {
		return ""
	}
	return name
}

// hunkSides splits a hunk body into its original and updated text
func hunkSides(body string) (before, after string) {
	var orig, updated []string
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '-':
			orig = append(orig, line[1:])
		case '+':
			updated = append(updated, line[1:])
		case '\\': // "\ No newline at end of file"
		default:
			text := strings.TrimPrefix(line, " ")
			orig = append(orig, text)
			updated = append(updated, text)
		}
	}
	return strings.Join(orig, "\n"), strings.Join(updated, "\n")
}
