package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

// catalogFile is the YAML shape of a user-supplied pattern catalog
type catalogFile struct {
	Patterns []catalogEntry `yaml:"patterns"`
}

type catalogEntry struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Severity    string `yaml:"severity"`
	AutoFixable bool   `yaml:"auto_fixable"`
	Regex       string `yaml:"regex"`
}

// LoadCatalog reads additional patterns from a YAML file and merges them
// into the library in category priority order. A missing file is not an
// error; a malformed entry is.
func (l *Library) LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing pattern catalog %s: %w", path, err)
	}

	extra := make([]*Pattern, 0, len(file.Patterns))
	for _, entry := range file.Patterns {
		if entry.Name == "" || entry.Regex == "" {
			return fmt.Errorf("pattern catalog %s: entry missing name or regex", path)
		}
		re, err := regexp.Compile(entry.Regex)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", entry.Name, err)
		}
		sev := domain.Severity(entry.Severity)
		if sev.Rank() == 0 && sev != domain.SeverityInfo {
			sev = domain.SeverityMedium
		}
		extra = append(extra, &Pattern{
			Name:        entry.Name,
			Category:    domain.ParseCategory(entry.Category),
			Severity:    sev,
			AutoFixable: entry.AutoFixable,
			re:          re,
		})
	}

	l.Extend(extra)
	return nil
}
