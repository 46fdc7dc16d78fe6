package sanitize

import (
	"regexp"
)

// Category classifies the kind of prompt-injection technique a signature detects.
type Category string

const (
	// CategoryImperativeOverride covers instructions telling the model to
	// discard its operator-supplied directives.
	CategoryImperativeOverride Category = "imperative_override"

	// CategoryRoleReassignment covers attempts to rewrite the model's role
	// or privilege level mid-prompt.
	CategoryRoleReassignment Category = "role_reassignment"

	// CategoryDelimiterEscape covers attempts to close the untrusted-input
	// wrapper and smuggle new instructions after it.
	CategoryDelimiterEscape Category = "delimiter_escape"

	// CategoryMarkupInjection covers script/markup payloads, shared with the
	// input validator's signature set.
	CategoryMarkupInjection Category = "markup_injection"
)

// Signature is a single prompt-injection detection pattern.
type Signature struct {
	// Name is a stable identifier reported in detection results and audit events.
	Name string

	// Category classifies the injection technique.
	Category Category

	// Regex is the compiled signature.
	Regex *regexp.Regexp

	// Description explains what this signature detects.
	Description string

	// Severity indicates the risk level (1-10).
	Severity int
}

// SignatureSet holds the prompt-injection signature library.
type SignatureSet struct {
	signatures []*Signature
}

// NewSignatureSet creates a signature set with the default library.
func NewSignatureSet() *SignatureSet {
	return &SignatureSet{signatures: defaultSignatures()}
}

// Signatures returns all signatures in the set.
func (ss *SignatureSet) Signatures() []*Signature {
	return ss.signatures
}

// ByCategory returns signatures filtered by category.
func (ss *SignatureSet) ByCategory(category Category) []*Signature {
	var result []*Signature
	for _, s := range ss.signatures {
		if s.Category == category {
			result = append(result, s)
		}
	}
	return result
}

// defaultSignatures returns the built-in prompt-injection signatures.
// Matching is intentionally loose on whitespace and casing: attackers vary
// both freely, legitimate cover-letter prose matches these phrasings rarely.
func defaultSignatures() []*Signature {
	return []*Signature{
		// Imperative overrides
		{
			Name:        "ignore_instructions",
			Category:    CategoryImperativeOverride,
			Regex:       regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|the)\s+(instructions?|prompts?|directives?|rules?)`),
			Description: "Detects 'ignore previous/all instructions' overrides",
			Severity:    9,
		},
		{
			Name:        "disregard_instructions",
			Category:    CategoryImperativeOverride,
			Regex:       regexp.MustCompile(`(?i)\b(disregard|forget|discard)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|the)\s+(instructions?|prompts?|directives?|rules?|text)`),
			Description: "Detects 'disregard the above' style overrides",
			Severity:    9,
		},
		{
			Name:        "new_instructions",
			Category:    CategoryImperativeOverride,
			Regex:       regexp.MustCompile(`(?i)\byour\s+new\s+(instructions?|task|objective|goal)\s+(is|are)\b`),
			Description: "Detects replacement-instruction framing",
			Severity:    8,
		},
		{
			Name:        "do_not_follow",
			Category:    CategoryImperativeOverride,
			Regex:       regexp.MustCompile(`(?i)\bdo\s+not\s+follow\s+(the\s+|your\s+)?(previous|prior|above|original)\s+(instructions?|prompts?|rules?)`),
			Description: "Detects negated-compliance overrides",
			Severity:    8,
		},

		// Role reassignment
		{
			Name:        "system_role_marker",
			Category:    CategoryRoleReassignment,
			Regex:       regexp.MustCompile(`(?im)^\s*(system|assistant|developer)\s*:`),
			Description: "Detects chat-role markers at line start",
			Severity:    8,
		},
		{
			Name:        "you_are_now",
			Category:    CategoryRoleReassignment,
			Regex:       regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\b`),
			Description: "Detects role-reassignment framing",
			Severity:    8,
		},
		{
			Name:        "act_as_privileged",
			Category:    CategoryRoleReassignment,
			Regex:       regexp.MustCompile(`(?i)\b(act|behave|respond)\s+as\s+(a\s+|an\s+|the\s+)?(admin|administrator|root|system|developer\s+mode)`),
			Description: "Detects privileged-persona requests",
			Severity:    8,
		},
		{
			Name:        "jailbreak_persona",
			Category:    CategoryRoleReassignment,
			Regex:       regexp.MustCompile(`(?i)\b(DAN\s+mode|jailbreak|developer\s+mode\s+enabled)\b`),
			Description: "Detects well-known jailbreak persona markers",
			Severity:    7,
		},

		// Delimiter escapes
		{
			Name:        "wrapper_close",
			Category:    CategoryDelimiterEscape,
			Regex:       regexp.MustCompile(`(?i)</\s*(untrusted_input|user_input|input|context|document)\s*>`),
			Description: "Detects attempts to close the untrusted-input wrapper",
			Severity:    9,
		},
		{
			Name:        "end_of_input_marker",
			Category:    CategoryDelimiterEscape,
			Regex:       regexp.MustCompile(`(?i)\b(end\s+of\s+(user\s+)?(input|document|context|data))\s*[.:\]]`),
			Description: "Detects fake end-of-input markers followed by new text",
			Severity:    8,
		},
		{
			Name:        "triple_backtick_system",
			Category:    CategoryDelimiterEscape,
			Regex:       regexp.MustCompile("(?i)```\\s*(system|instructions?)"),
			Description: "Detects fenced blocks restating system instructions",
			Severity:    7,
		},

		// Markup injection (shared concern with the input validator)
		{
			Name:        "script_tag",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)<\s*script\b[^>]*>`),
			Description: "Detects opening script tags",
			Severity:    8,
		},
		{
			Name:        "event_handler",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`),
			Description: "Detects inline event-handler attributes",
			Severity:    7,
		},
		{
			Name:        "javascript_uri",
			Category:    CategoryMarkupInjection,
			Regex:       regexp.MustCompile(`(?i)javascript\s*:\s*\w`),
			Description: "Detects javascript: URIs",
			Severity:    7,
		},
	}
}

// responseLeakSignatures screen generated output for signs the model obeyed
// an injected instruction or leaked its operator prompt. These are advisory:
// false positives are expected and matches flag for review, never hard-fail.
var responseLeakSignatures = []*Signature{
	{
		Name:        "instructions_reference",
		Category:    CategoryImperativeOverride,
		Regex:       regexp.MustCompile(`(?i)\bmy\s+(system\s+)?(instructions?|prompt)\s+(were|was|are|is|say|said)\b`),
		Description: "Detects the model describing its own instructions",
		Severity:    6,
	},
	{
		Name:        "injection_acknowledgment",
		Category:    CategoryImperativeOverride,
		Regex:       regexp.MustCompile(`(?i)\b(as\s+requested,?\s+)?(i\s+(will|shall|have))\s+(now\s+)?(ignore|ignored|disregard|disregarded)\b`),
		Description: "Detects acknowledgment of an override instruction",
		Severity:    7,
	},
	{
		Name:        "system_prompt_reveal",
		Category:    CategoryRoleReassignment,
		Regex:       regexp.MustCompile(`(?i)\b(here\s+(is|are)\s+(my|the)\s+(system\s+prompt|hidden\s+instructions?))\b`),
		Description: "Detects verbatim system-prompt disclosure framing",
		Severity:    8,
	},
}
