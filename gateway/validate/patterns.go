package validate

import (
	"regexp"
)

// Category classifies the kind of attack a pattern detects.
type Category string

const (
	// CategorySQLInjection covers SQL syntax smuggled into text fields.
	CategorySQLInjection Category = "sql_injection"

	// CategoryMarkupInjection covers script/markup injection (XSS-style payloads).
	CategoryMarkupInjection Category = "markup_injection"

	// CategoryPathTraversal covers directory traversal sequences, including
	// URL-encoded variants.
	CategoryPathTraversal Category = "path_traversal"

	// CategoryShellMetachar covers shell metacharacter sequences that could
	// escape into command execution.
	CategoryShellMetachar Category = "shell_metachar"

	// CategorySSRF covers literal loopback/private-range host references.
	CategorySSRF Category = "ssrf"
)

// Pattern represents a single attack-signature detection pattern.
type Pattern struct {
	// Name is a stable, human-readable identifier for the pattern.
	Name string

	// Category classifies the attack class this pattern detects.
	Category Category

	// Regex is the compiled signature.
	Regex *regexp.Regexp

	// Description explains what this pattern detects.
	Description string

	// Severity indicates the risk level (1-10).
	Severity int
}

// PatternSet holds the signature library used by the validator.
// Patterns are modeled as data so coverage can be tested signature-by-signature.
type PatternSet struct {
	patterns []*Pattern
}

// NewPatternSet creates a pattern set with the default signatures.
func NewPatternSet() *PatternSet {
	return &PatternSet{patterns: defaultPatterns()}
}

// Patterns returns all patterns in the set.
func (ps *PatternSet) Patterns() []*Pattern {
	return ps.patterns
}

// ByCategory returns patterns filtered by category.
func (ps *PatternSet) ByCategory(categories ...Category) []*Pattern {
	want := make(map[Category]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var result []*Pattern
	for _, p := range ps.patterns {
		if want[p.Category] {
			result = append(result, p)
		}
	}
	return result
}

// MatchFirst returns the first pattern in the given categories that matches
// the value, or nil when none match.
func (ps *PatternSet) MatchFirst(value string, categories ...Category) *Pattern {
	for _, p := range ps.ByCategory(categories...) {
		if p.Regex.MatchString(value) {
			return p
		}
	}
	return nil
}

// defaultPatterns returns the built-in attack signatures.
// These balance detection accuracy against false positives on résumé and
// job-posting prose.
func defaultPatterns() []*Pattern {
	return []*Pattern{
		// SQL injection
		{
			Name:        "union_select",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`),
			Description: "Detects UNION SELECT statements used to extract data",
			Severity:    9,
		},
		{
			Name:        "stacked_drop",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i);\s*DROP\s+(TABLE|DATABASE)\b`),
			Description: "Detects stacked DROP TABLE/DATABASE statement",
			Severity:    10,
		},
		{
			Name:        "stacked_delete",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i);\s*DELETE\s+FROM\b`),
			Description: "Detects stacked DELETE statement",
			Severity:    10,
		},
		{
			Name:        "stacked_insert",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i);\s*INSERT\s+INTO\b`),
			Description: "Detects stacked INSERT statement",
			Severity:    9,
		},
		{
			Name:        "stacked_update",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i);\s*UPDATE\s+\w+\s+SET\b`),
			Description: "Detects stacked UPDATE statement",
			Severity:    9,
		},
		{
			Name:        "comment_truncation",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i)['"];?\s*(--|#)`),
			Description: "Detects quote termination followed by a SQL comment",
			Severity:    8,
		},
		{
			Name:        "or_true_condition",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i)\bOR\s+['"]?\d+['"]?\s*=\s*['"]?\d+['"]?`),
			Description: "Detects OR with always-true numeric comparison (OR 1=1)",
			Severity:    8,
		},
		{
			Name:        "admin_bypass",
			Category:    CategorySQLInjection,
			Regex:       regexp.MustCompile(`(?i)['"]?\s*OR\s+['"][^'"]*['"]\s*=\s*['"][^'"]*['"]`),
			Description: "Detects authentication bypass with string comparison",
			Severity:    10,
		},

		// Markup/script injection
		{
			Name:        "script_tag",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)<\s*script\b`),
			Description: "Detects opening script tags",
			Severity:    9,
		},
		{
			Name:        "event_handler",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`),
			Description: "Detects inline event-handler attributes",
			Severity:    8,
		},
		{
			Name:        "javascript_uri",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)javascript\s*:`),
			Description: "Detects javascript: URIs",
			Severity:    8,
		},
		{
			Name:        "embedded_frame",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet)\b`),
			Description: "Detects embedded object/iframe tags",
			Severity:    8,
		},

		// Path traversal
		{
			Name:        "dot_dot_slash",
			Category:    CategoryPathTraversal,
			Regex:       regexp.MustCompile(`\.\.[/\\]`),
			Description: "Detects directory traversal sequences",
			Severity:    9,
		},
		{
			Name:        "encoded_traversal",
			Category:    CategoryPathTraversal,
			Regex:       regexp.MustCompile(`(?i)(%2e){2}(%2f|%5c|[/\\])|\.\.(%2f|%5c)`),
			Description: "Detects URL-encoded directory traversal sequences",
			Severity:    9,
		},

		// Shell metacharacters
		{
			Name:        "command_separator",
			Category:    CategoryShellMetachar,
			Regex:       regexp.MustCompile(`;|\|\||&&|\|`),
			Description: "Detects shell command separators",
			Severity:    7,
		},
		{
			Name:        "command_substitution",
			Category:    CategoryShellMetachar,
			Regex:       regexp.MustCompile("`|\\$\\(" ),
			Description: "Detects backtick or $( command substitution",
			Severity:    8,
		},

		// SSRF host references
		{
			Name:        "loopback_host",
			Category:    CategorySSRF,
			Regex:       regexp.MustCompile(`(?i)\b(localhost|127\.\d{1,3}\.\d{1,3}\.\d{1,3}|0\.0\.0\.0)\b|^\[?::1\]?$`),
			Description: "Detects loopback host references",
			Severity:    9,
		},
		{
			Name:        "private_range_host",
			Category:    CategorySSRF,
			Regex:       regexp.MustCompile(`\b(10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`),
			Description: "Detects RFC 1918 private-range host references",
			Severity:    9,
		},
		{
			Name:        "link_local_host",
			Category:    CategorySSRF,
			Regex:       regexp.MustCompile(`\b169\.254\.\d{1,3}\.\d{1,3}\b`),
			Description: "Detects link-local host references, including cloud metadata endpoints",
			Severity:    10,
		},
	}
}
