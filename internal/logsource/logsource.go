// Package logsource supplies pipeline failure logs. The engine itself is
// CI-platform agnostic; a DirSource serves logs dropped as files, and a
// DropWatcher turns newly dropped files into session triggers.
package logsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSource serves logs from a directory of <pipeline-id>.log files
type DirSource struct {
	dir string
}

// NewDirSource creates a DirSource over dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// FetchLogs reads the log file for the given pipeline id
func (s *DirSource) FetchLogs(ctx context.Context, pipelineID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, pipelineID+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading logs for pipeline %s: %w", pipelineID, err)
	}
	return string(data), nil
}
