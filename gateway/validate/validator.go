package validate

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Code identifies why a field failed validation.
type Code string

const (
	CodeOK                Code = ""
	CodeTooShort          Code = "too_short"
	CodeTooLong           Code = "too_long"
	CodeMaliciousPattern  Code = "malicious_pattern"
	CodeSSRFBlocked       Code = "ssrf_blocked"
	CodeBadInteger        Code = "bad_integer"
	CodeMissingFile       Code = "missing_file"
	CodeEmptyFile         Code = "empty_file"
	CodeOversizedUpload   Code = "oversized_upload"
	CodeUnsupportedFormat Code = "unsupported_format"
)

// Outcome is the result of a single validation check.
// It is produced per call and never persisted beyond the audit trail.
type Outcome struct {
	Valid   bool   `json:"valid"`
	Code    Code   `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`

	// Pattern is the signature name when Code is malicious_pattern or
	// ssrf_blocked.
	Pattern string `json:"pattern,omitempty"`
}

// ok is the shared success outcome.
func ok(field string) Outcome {
	return Outcome{Valid: true, Field: field}
}

func fail(field string, code Code, format string, args ...any) Outcome {
	return Outcome{Valid: false, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Defaults for the validator configuration.
const (
	// DefaultSpecialCharThreshold is the maximum allowed ratio of
	// non-alphanumeric, non-space characters in a text field. Values above
	// this suggest an encoded payload rather than prose.
	DefaultSpecialCharThreshold = 0.3

	// DefaultStorageKeyMaxLen bounds keys derived from display names.
	DefaultStorageKeyMaxLen = 64

	// DefaultMaxURLLength bounds optional URL fields.
	DefaultMaxURLLength = 2048
)

// identifierAllowed is the allow-listed punctuation for identifier fields
// (company names, job titles) beyond letters, digits, and space.
const identifierAllowed = ".,'&()-"

// Validator performs stateless syntactic checks on structured input fields.
// It holds no per-request state and is safe for unrestricted concurrent use.
type Validator struct {
	patterns          *PatternSet
	specialCharThresh float64
	storageKeyMaxLen  int
	allowedExtensions map[string]bool
}

// Option is a functional option for configuring a Validator.
type Option func(*Validator)

// WithPatternSet sets a custom signature library.
func WithPatternSet(ps *PatternSet) Option {
	return func(v *Validator) { v.patterns = ps }
}

// WithSpecialCharThreshold overrides the encoded-payload heuristic threshold.
func WithSpecialCharThreshold(t float64) Option {
	return func(v *Validator) { v.specialCharThresh = t }
}

// WithStorageKeyMaxLen overrides the storage-key truncation length.
func WithStorageKeyMaxLen(n int) Option {
	return func(v *Validator) { v.storageKeyMaxLen = n }
}

// WithAllowedExtensions sets the accepted upload extensions (lowercase, with dot).
func WithAllowedExtensions(exts ...string) Option {
	return func(v *Validator) {
		v.allowedExtensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			v.allowedExtensions[strings.ToLower(e)] = true
		}
	}
}

// New creates a Validator with the default signature library.
func New(opts ...Option) *Validator {
	v := &Validator{
		patterns:          NewPatternSet(),
		specialCharThresh: DefaultSpecialCharThreshold,
		storageKeyMaxLen:  DefaultStorageKeyMaxLen,
		allowedExtensions: map[string]bool{".pdf": true},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Patterns exposes the signature library, primarily for coverage tests.
func (v *Validator) Patterns() *PatternSet {
	return v.patterns
}

// CheckTextField validates a free-text field (job description, profile
// summary) against length bounds, injection signatures, and the
// encoded-payload heuristic.
func (v *Validator) CheckTextField(value string, minLen, maxLen int, field string) Outcome {
	n := utf8.RuneCountInString(value)
	if n < minLen {
		return fail(field, CodeTooShort, "%s must be at least %d characters, got %d", field, minLen, n)
	}
	if n > maxLen {
		return fail(field, CodeTooLong, "%s must be at most %d characters, got %d", field, maxLen, n)
	}

	if p := v.patterns.MatchFirst(value, CategorySQLInjection, CategoryMarkupInjection); p != nil {
		out := fail(field, CodeMaliciousPattern, "%s contains a disallowed pattern", field)
		out.Pattern = p.Name
		return out
	}

	if ratio := specialCharRatio(value); ratio > v.specialCharThresh {
		out := fail(field, CodeMaliciousPattern, "%s has an unusually high special-character ratio (%.2f)", field, ratio)
		out.Pattern = "special_char_ratio"
		return out
	}

	return ok(field)
}

// CheckIdentifierField validates a short identifier-like field (company name,
// job title) against an explicit character allow-list plus traversal and
// shell-metacharacter signatures.
func (v *Validator) CheckIdentifierField(value string, maxLen int, field string) Outcome {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return fail(field, CodeTooShort, "%s must not be empty", field)
	}
	if n > maxLen {
		return fail(field, CodeTooLong, "%s must be at most %d characters, got %d", field, maxLen, n)
	}

	if p := v.patterns.MatchFirst(value, CategoryPathTraversal, CategoryShellMetachar, CategoryMarkupInjection); p != nil {
		out := fail(field, CodeMaliciousPattern, "%s contains a disallowed pattern", field)
		out.Pattern = p.Name
		return out
	}

	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			continue
		}
		if strings.ContainsRune(identifierAllowed, r) {
			continue
		}
		out := fail(field, CodeMaliciousPattern, "%s contains disallowed character %q", field, r)
		out.Pattern = "charset_violation"
		return out
	}

	return ok(field)
}

// StorageKey derives a filesystem- and cache-safe key from an untrusted
// display name. It is a total function: it strips everything outside a
// conservative allow-list, collapses whitespace, and truncates.
func (v *Validator) StorageKey(value string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	key := strings.Trim(b.String(), "_")
	if len(key) > v.storageKeyMaxLen {
		key = strings.Trim(key[:v.storageKeyMaxLen], "_")
	}
	if key == "" {
		return "unnamed"
	}
	return key
}

// CheckURL validates an optional URL field. An empty value is valid. The URL
// must be http(s), bounded in length, and must not reference loopback,
// link-local, or private-range hosts.
func (v *Validator) CheckURL(value string, field string) Outcome {
	if value == "" {
		return ok(field)
	}
	if len(value) > DefaultMaxURLLength {
		return fail(field, CodeTooLong, "%s must be at most %d characters", field, DefaultMaxURLLength)
	}

	u, err := url.Parse(value)
	if err != nil {
		return fail(field, CodeMaliciousPattern, "%s is not a well-formed URL", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		out := fail(field, CodeSSRFBlocked, "%s must use http or https, got %q", field, u.Scheme)
		out.Pattern = "non_http_scheme"
		return out
	}
	if u.Host == "" {
		return fail(field, CodeMaliciousPattern, "%s has no host", field)
	}

	host := u.Hostname()
	if p := v.patterns.MatchFirst(host, CategorySSRF); p != nil {
		out := fail(field, CodeSSRFBlocked, "%s references a blocked host", field)
		out.Pattern = p.Name
		return out
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			out := fail(field, CodeSSRFBlocked, "%s references a non-public address", field)
			out.Pattern = "non_public_address"
			return out
		}
	}

	return ok(field)
}

// CheckBoundedInt validates that a string field parses as an integer within
// [lo, hi].
func (v *Validator) CheckBoundedInt(value string, lo, hi int, field string) Outcome {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fail(field, CodeBadInteger, "%s must be an integer", field)
	}
	if n < lo || n > hi {
		return fail(field, CodeBadInteger, "%s must be between %d and %d, got %d", field, lo, hi, n)
	}
	return ok(field)
}

// CheckUpload validates an uploaded document on disk: presence, size bounds,
// extension, and leading file-format signature. Deep content-type sniffing is
// intentionally out of scope; the magic-byte check is the correctness bar.
func (v *Validator) CheckUpload(path string, maxSize int64, magic []byte, field string) Outcome {
	info, err := os.Stat(path)
	if err != nil {
		return fail(field, CodeMissingFile, "%s is missing or unreadable", field)
	}
	if info.Size() == 0 {
		return fail(field, CodeEmptyFile, "%s is empty", field)
	}
	if info.Size() > maxSize {
		return fail(field, CodeOversizedUpload, "%s exceeds the %d-byte limit", field, maxSize)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !v.allowedExtensions[ext] {
		return fail(field, CodeUnsupportedFormat, "%s has unsupported extension %q", field, ext)
	}

	if len(magic) > 0 {
		f, err := os.Open(path)
		if err != nil {
			return fail(field, CodeMissingFile, "%s is missing or unreadable", field)
		}
		defer f.Close()

		// ReadFull distinguishes a short file from a read error: a partial
		// head must not be compared byte-for-byte against the signature.
		head := make([]byte, len(magic))
		if _, err := io.ReadFull(f, head); err != nil {
			return fail(field, CodeUnsupportedFormat, "%s is too short for signature check", field)
		}
		for i := range magic {
			if head[i] != magic[i] {
				return fail(field, CodeUnsupportedFormat, "%s does not match the expected file signature", field)
			}
		}
	}

	return ok(field)
}

// FieldCheck pairs a field name with a deferred validation, so CheckBatch can
// short-circuit without evaluating later fields.
type FieldCheck struct {
	Field string
	Check func() Outcome
}

// CheckBatch runs checks in order and returns the first failure, or a valid
// outcome when every field passes.
func (v *Validator) CheckBatch(checks ...FieldCheck) Outcome {
	for _, c := range checks {
		if out := c.Check(); !out.Valid {
			if out.Field == "" {
				out.Field = c.Field
			}
			return out
		}
	}
	return Outcome{Valid: true}
}

// specialCharRatio computes the share of runes that are neither
// alphanumeric nor whitespace.
func specialCharRatio(value string) float64 {
	total := 0
	special := 0
	for _, r := range value {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		special++
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}
