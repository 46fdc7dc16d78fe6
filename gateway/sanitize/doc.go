// Package sanitize defends the downstream generation call against prompt
// injection. It detects and neutralizes injection signatures in untrusted
// free text, wraps user content in explicit data-not-instructions delimiters,
// composes safe prompts, and screens generated output for instruction
// leakage.
//
// Detections are advisory by design: the gateway cleans the text and
// continues rather than rejecting the request, trading a small residual risk
// for a low false-positive rate on ordinary cover-letter prose. Hard failures
// stay with the validator and rate limiter.
package sanitize
