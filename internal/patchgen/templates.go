package patchgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

// Template is a deterministic fix recipe for one error category. Build
// derives concrete edits from the error and the current tree; it performs
// no external calls and returns nil when the recipe does not apply.
type Template struct {
	Category    domain.ErrorCategory
	Description func(e *domain.Error) string
	Build       func(e *domain.Error, tree worktree.Accessor) []domain.FileEdit
}

var (
	missingPackageRegex = regexp.MustCompile(
		`(?:peer dep(?:endency)? missing:? |Cannot find module '?|No module named '?)([@A-Za-z0-9_/.-]+)`)
	missingEnvRegex = regexp.MustCompile(
		`(?i)(?:missing|unset|undefined) (?:required )?environment variable:?\s*'?([A-Z][A-Z0-9_]*)`)
)

// DefaultTemplates returns the built-in fix-template catalog keyed by
// error category.
func DefaultTemplates() map[domain.ErrorCategory]Template {
	return map[domain.ErrorCategory]Template{
		domain.CategoryDependency: {
			Category: domain.CategoryDependency,
			Description: func(e *domain.Error) string {
				if pkg := extractPackage(e); pkg != "" {
					return fmt.Sprintf("add missing dependency %s to package.json", pkg)
				}
				return "add missing dependency to package.json"
			},
			Build: buildDependencyFix,
		},
		domain.CategoryConfiguration: {
			Category: domain.CategoryConfiguration,
			Description: func(e *domain.Error) string {
				if name := extractEnvVar(e); name != "" {
					return fmt.Sprintf("document required environment variable %s", name)
				}
				return "document required environment variable"
			},
			Build: buildConfigFix,
		},
	}
}

func extractPackage(e *domain.Error) string {
	for _, text := range []string{e.Message, e.RawLogExcerpt} {
		if m := missingPackageRegex.FindStringSubmatch(text); m != nil {
			return strings.TrimSuffix(m[1], "'")
		}
	}
	return ""
}

func extractEnvVar(e *domain.Error) string {
	for _, text := range []string{e.Message, e.RawLogExcerpt} {
		if m := missingEnvRegex.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// buildDependencyFix inserts the missing package into package.json's
// dependencies block.
func buildDependencyFix(e *domain.Error, tree worktree.Accessor) []domain.FileEdit {
	pkg := extractPackage(e)
	if pkg == "" || tree == nil || !tree.Exists("package.json") {
		return nil
	}
	content, err := tree.Read("package.json")
	if err != nil {
		return nil
	}
	if strings.Contains(content, fmt.Sprintf("%q:", pkg)) {
		return nil // already declared; not a fix we can make
	}

	anchor := `"dependencies": {`
	idx := strings.Index(content, anchor)
	if idx == -1 {
		return nil
	}
	indent := blockIndent(content, idx)

	return []domain.FileEdit{{
		Path:   "package.json",
		Before: anchor,
		After:  anchor + "\n" + indent + fmt.Sprintf("%q: \"*\",", pkg),
	}}
}

// buildConfigFix appends the missing variable to .env.example so the
// pipeline environment documents it.
func buildConfigFix(e *domain.Error, tree worktree.Accessor) []domain.FileEdit {
	name := extractEnvVar(e)
	if name == "" || tree == nil || !tree.Exists(".env.example") {
		return nil
	}
	content, err := tree.Read(".env.example")
	if err != nil {
		return nil
	}
	if strings.Contains(content, name+"=") {
		return nil
	}

	trimmed := strings.TrimRight(content, "\n")
	return []domain.FileEdit{{
		Path:   ".env.example",
		Before: trimmed,
		After:  trimmed + "\n" + name + "=",
	}}
}

// blockIndent guesses the member indentation of the JSON block opened at idx
func blockIndent(content string, idx int) string {
	lineStart := strings.LastIndexByte(content[:idx], '\n') + 1
	outer := content[lineStart:idx]
	if strings.TrimSpace(outer) == "" {
		return outer + "  "
	}
	return "  "
}
