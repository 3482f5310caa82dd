// Package patterns holds the static catalog of deterministic error matchers.
// The catalog is read-only after construction and safe to share across all
// sessions without locking.
package patterns

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/selfheal/internal/domain"
)

// Pattern is one structural matcher mapped to an error category
type Pattern struct {
	Name        string
	Category    domain.ErrorCategory
	Severity    domain.Severity
	AutoFixable bool
	re          *regexp.Regexp
}

// Regex returns the pattern's regular expression source
func (p *Pattern) Regex() string {
	return p.re.String()
}

// Match is the result of a pattern hit on a log segment
type Match struct {
	Pattern  *Pattern
	Message  string
	Location *domain.Location
}

// locationRegex extracts file:line references from log text
var locationRegex = regexp.MustCompile(`([A-Za-z0-9_./-]+\.[A-Za-z0-9]+):(\d+)`)

// Library is a priority-ordered catalog of patterns. First match wins.
type Library struct {
	patterns []*Pattern
}

// New creates a Library from explicit patterns (used by catalog loading and tests)
func New(patterns []*Pattern) *Library {
	return &Library{patterns: patterns}
}

// Default returns the built-in catalog, ordered most specific category first
func Default() *Library {
	return &Library{patterns: builtin()}
}

// All returns the catalog in priority order
func (l *Library) All() []*Pattern {
	return l.patterns
}

// Match evaluates every pattern in priority order against a log segment.
// The first matching pattern wins; nil means no pattern matched.
func (l *Library) Match(segment string) *Match {
	for _, p := range l.patterns {
		loc := p.re.FindStringIndex(segment)
		if loc == nil {
			continue
		}
		return &Match{
			Pattern:  p,
			Message:  matchedLine(segment, loc[0]),
			Location: extractLocation(segment),
		}
	}
	return nil
}

// Extend appends catalog patterns after the built-ins of the same category
// ordering; custom patterns are evaluated before the generic fallbacks of
// later categories by inserting in category priority position.
func (l *Library) Extend(extra []*Pattern) {
	if len(extra) == 0 {
		return
	}
	order := make(map[domain.ErrorCategory]int, len(domain.Categories))
	for i, c := range domain.Categories {
		order[c] = i
	}
	merged := append(append([]*Pattern{}, l.patterns...), extra...)
	// stable insertion sort keeps built-in order within a category
	for i := 1; i < len(merged); i++ {
		for j := i; j > 0 && order[merged[j].Category] < order[merged[j-1].Category]; j-- {
			merged[j], merged[j-1] = merged[j-1], merged[j]
		}
	}
	l.patterns = merged
}

// matchedLine returns the trimmed log line containing the match offset
func matchedLine(segment string, offset int) string {
	start := strings.LastIndexByte(segment[:offset], '\n') + 1
	end := strings.IndexByte(segment[offset:], '\n')
	if end == -1 {
		end = len(segment)
	} else {
		end += offset
	}
	return strings.TrimSpace(segment[start:end])
}

// extractLocation pulls the first file:line reference out of a segment
func extractLocation(segment string) *domain.Location {
	m := locationRegex.FindStringSubmatch(segment)
	if m == nil {
		return nil
	}
	line, _ := strconv.Atoi(m[2]) // regex guarantees digits
	return &domain.Location{File: m[1], Line: line}
}

func mustPattern(name string, cat domain.ErrorCategory, sev domain.Severity, autoFix bool, expr string) *Pattern {
	return &Pattern{
		Name:        name,
		Category:    cat,
		Severity:    sev,
		AutoFixable: autoFix,
		re:          regexp.MustCompile(expr),
	}
}

// builtin returns the default matchers, grouped by category in the
// classification priority order of domain.Categories.
func builtin() []*Pattern {
	return []*Pattern{
		// security
		mustPattern("cve-reference", domain.CategorySecurity, domain.SeverityCritical, false,
			`CVE-\d{4}-\d{4,}`),
		mustPattern("audit-vulnerability", domain.CategorySecurity, domain.SeverityHigh, false,
			`(?i)(found \d+ vulnerabilit|security audit failed|secret detected|leaked credential)`),

		// dependency
		mustPattern("npm-peer-dep", domain.CategoryDependency, domain.SeverityHigh, true,
			`npm ERR!.*peer dep(endency)? (missing|conflict)`),
		mustPattern("npm-resolve", domain.CategoryDependency, domain.SeverityHigh, true,
			`npm ERR!.*(ERESOLVE|could not resolve|404 Not Found)`),
		mustPattern("module-not-found", domain.CategoryDependency, domain.SeverityHigh, true,
			`(Cannot find module|ModuleNotFoundError|ImportError: No module named)`),
		mustPattern("go-missing-module", domain.CategoryDependency, domain.SeverityHigh, true,
			`no required module provides package`),
		mustPattern("version-conflict", domain.CategoryDependency, domain.SeverityMedium, false,
			`(?i)(incompatible|conflicting) (version|dependenc)`),

		// permission
		mustPattern("permission-denied", domain.CategoryPermission, domain.SeverityHigh, true,
			`(?i)(permission denied|EACCES|operation not permitted)`),
		mustPattern("auth-rejected", domain.CategoryPermission, domain.SeverityHigh, false,
			`(?i)(401 unauthorized|403 forbidden|authentication failed)`),

		// configuration
		mustPattern("missing-env", domain.CategoryConfiguration, domain.SeverityHigh, true,
			`(?i)(missing|unset|undefined) (required )?environment variable`),
		mustPattern("config-not-found", domain.CategoryConfiguration, domain.SeverityMedium, true,
			`(?i)(config(uration)? file .*not found|invalid configuration|unknown (option|flag))`),

		// network
		mustPattern("connection-refused", domain.CategoryNetwork, domain.SeverityHigh, false,
			`(?i)(connection refused|ECONNREFUSED|ECONNRESET|ETIMEDOUT)`),
		mustPattern("dns-failure", domain.CategoryNetwork, domain.SeverityHigh, false,
			`(?i)(could not resolve host|no such host|name resolution fail)`),
		mustPattern("tls-failure", domain.CategoryNetwork, domain.SeverityMedium, false,
			`(?i)(tls handshake (error|timeout)|certificate (expired|verif))`),

		// resource
		mustPattern("out-of-memory", domain.CategoryResource, domain.SeverityCritical, false,
			`(?i)(out of memory|OOMKilled|cannot allocate memory)`),
		mustPattern("disk-full", domain.CategoryResource, domain.SeverityCritical, false,
			`(?i)(no space left on device|disk quota exceeded)`),

		// build
		mustPattern("compile-error", domain.CategoryBuild, domain.SeverityHigh, false,
			`(?i)(compilation (failed|error)|syntax ?error|undefined reference|cannot find symbol)`),
		mustPattern("build-failed", domain.CategoryBuild, domain.SeverityHigh, false,
			`(?i)(build failed|exit (status|code) [1-9]\d* .*build)`),

		// test
		mustPattern("test-failure", domain.CategoryTest, domain.SeverityMedium, false,
			`(--- FAIL:|(?i)(tests? failed|assertion (failed|error)|\d+ (failing|failed) tests?))`),

		// deployment
		mustPattern("k8s-pod-failure", domain.CategoryDeployment, domain.SeverityHigh, false,
			`(ImagePullBackOff|CrashLoopBackOff|ErrImagePull)`),
		mustPattern("rollout-failed", domain.CategoryDeployment, domain.SeverityHigh, false,
			`(?i)(deploy(ment)? failed|rollout .*(failed|stuck|timed out))`),
	}
}
