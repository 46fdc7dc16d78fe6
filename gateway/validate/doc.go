// Package validate rejects malformed or adversarial structured inputs before
// they reach any stateful component or the generation provider.
//
// Signatures are modeled as data (see PatternSet) rather than inline literals,
// so coverage can be unit-tested signature-by-signature.
//
// # Usage
//
// Create a validator once at startup and share it:
//
//	v := validate.New()
//	out := v.CheckTextField(jobDescription, 50, 10000, "job_description")
//	if !out.Valid {
//	    log.Printf("rejected %s: %s (%s)", out.Field, out.Message, out.Code)
//	}
//
// All checks are pure: they produce an Outcome and never log or mutate state.
// Callers are responsible for recording failures in the audit trail.
package validate
