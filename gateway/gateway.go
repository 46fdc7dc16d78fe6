// Copyright 2025 CoverForge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"

	"coverforge/platform/gateway/audit"
	"coverforge/platform/gateway/ratelimit"
	"coverforge/platform/gateway/sanitize"
	"coverforge/platform/gateway/validate"
	"coverforge/platform/shared/logger"
)

// Field bounds for generation requests.
const (
	maxClientIDLen       = 128
	minJobDescriptionLen = 10
	maxJobDescriptionLen = 10000
	maxCompanyNameLen    = 200
	maxRoleTitleLen      = 200
	maxApplicantNameLen  = 100
	minWordBudget        = 50
	maxWordBudget        = 1000
)

// Request is one admission-controlled generation request.
type Request struct {
	ClientID       string `json:"client_id"`
	RequestID      string `json:"request_id,omitempty"`
	JobDescription string `json:"job_description"`
	CompanyName    string `json:"company_name"`
	RoleTitle      string `json:"role_title"`
	ApplicantName  string `json:"applicant_name"`
	PortfolioURL   string `json:"portfolio_url,omitempty"`
	MaxWords       string `json:"max_words,omitempty"`
}

// Decision is the admission verdict for a request. When Allowed is false,
// Code and Reason explain the denial and RetryAfter carries the rate-limit
// backoff in seconds (zero for non-rate-limit denials).
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Denial codes surfaced by Admit beyond the validator's own codes.
const (
	CodeRateLimited        = "rate_limited"
	CodeBackendUnavailable = "backend_unavailable"
)

// coverLetterTemplate is the fixed instruction template for the downstream
// model. User-supplied values only ever enter through the placeholders,
// which BuildSafePrompt fills with cleaned, delimited content.
const coverLetterTemplate = `Write a professional cover letter for the following application.

Applicant: {{applicant_name}}
Role: {{role_title}}
Company: {{company_name}}

Job description:
{{job_description}}

Keep the letter concise, specific to the job description above, and written
in the applicant's voice.`

// Gateway fronts the content-generation call with validation, injection
// sanitization, rate limiting, and audit logging. It is built once at
// startup with explicit dependencies and is safe for concurrent use.
type Gateway struct {
	validator *validate.Validator
	sanitizer *sanitize.Sanitizer
	limiter   ratelimit.Store
	auditLog  *audit.Logger
	log       *logger.Logger
	policy    string
}

// New assembles a Gateway. The limiter may be the in-memory Limiter or a
// RedisStore; policy names the degradation policy for audit records.
func New(limiter ratelimit.Store, auditLog *audit.Logger, log *logger.Logger, policy string) *Gateway {
	return &Gateway{
		validator: validate.New(),
		sanitizer: sanitize.New(),
		limiter:   limiter,
		auditLog:  auditLog,
		log:       log,
		policy:    policy,
	}
}

// Admit runs the admission gates in order: field validation, advisory
// injection detection, then rate limiting. The rate-limit counter only
// moves when every earlier gate passed, so rejected requests never burn
// quota. Every denial is audited before the decision returns.
func (g *Gateway) Admit(ctx context.Context, req Request) Decision {
	out := g.validator.CheckBatch(
		validate.FieldCheck{Field: "client_id", Check: func() validate.Outcome {
			return g.validator.CheckIdentifierField(req.ClientID, maxClientIDLen, "client_id")
		}},
		validate.FieldCheck{Field: "job_description", Check: func() validate.Outcome {
			return g.validator.CheckTextField(req.JobDescription, minJobDescriptionLen, maxJobDescriptionLen, "job_description")
		}},
		validate.FieldCheck{Field: "company_name", Check: func() validate.Outcome {
			return g.validator.CheckIdentifierField(req.CompanyName, maxCompanyNameLen, "company_name")
		}},
		validate.FieldCheck{Field: "role_title", Check: func() validate.Outcome {
			return g.validator.CheckIdentifierField(req.RoleTitle, maxRoleTitleLen, "role_title")
		}},
		validate.FieldCheck{Field: "applicant_name", Check: func() validate.Outcome {
			return g.validator.CheckIdentifierField(req.ApplicantName, maxApplicantNameLen, "applicant_name")
		}},
		validate.FieldCheck{Field: "portfolio_url", Check: func() validate.Outcome {
			return g.validator.CheckURL(req.PortfolioURL, "portfolio_url")
		}},
		validate.FieldCheck{Field: "max_words", Check: func() validate.Outcome {
			if req.MaxWords == "" {
				return validate.Outcome{Valid: true, Field: "max_words"}
			}
			return g.validator.CheckBoundedInt(req.MaxWords, minWordBudget, maxWordBudget, "max_words")
		}},
	)
	if !out.Valid {
		promDenialsTotal.WithLabelValues("validation").Inc()
		g.auditLog.LogValidationFailure(req.ClientID, req.RequestID, out.Field, string(out.Code), out.Message)
		g.log.Warn(req.ClientID, req.RequestID, "Request rejected by validator", map[string]interface{}{
			"field": out.Field,
			"code":  string(out.Code),
		})
		return Decision{Allowed: false, Code: string(out.Code), Reason: out.Message}
	}

	// Injection detection is advisory: the request proceeds with cleaned
	// text, but the attempt is recorded for review.
	if matched := g.detectInjections(req); len(matched) > 0 {
		promInjectionDetections.Inc()
		g.auditLog.LogInjectionAttempt(req.ClientID, req.RequestID, matched)
		g.log.Warn(req.ClientID, req.RequestID, "Injection signatures detected, content will be neutralized", map[string]interface{}{
			"patterns": matched,
		})
	}

	verdict, err := g.limiter.CheckAll(ctx, req.ClientID)
	if err != nil {
		g.auditLog.LogBackendDegraded(req.ClientID, req.RequestID, g.policy, err.Error())
		g.log.Error(req.ClientID, req.RequestID, "Rate-limit backend degraded", map[string]interface{}{
			"policy": g.policy,
			"error":  err.Error(),
		})
	}
	if !verdict.Allowed {
		if verdict.Degraded {
			promDenialsTotal.WithLabelValues("backend").Inc()
			return Decision{Allowed: false, Code: CodeBackendUnavailable, Reason: verdict.Message}
		}
		promDenialsTotal.WithLabelValues("rate_limit").Inc()
		g.auditLog.LogRateLimitExceeded(req.ClientID, req.RequestID, verdict.Tier, verdict.RetryAfter)
		return Decision{Allowed: false, Code: CodeRateLimited, Reason: verdict.Message, RetryAfter: verdict.RetryAfter}
	}

	return Decision{Allowed: true}
}

// detectInjections scans the free-text and identifier fields and returns the
// union of matched signature names.
func (g *Gateway) detectInjections(req Request) []string {
	seen := make(map[string]bool)
	var matched []string
	for _, value := range []string{req.JobDescription, req.CompanyName, req.RoleTitle, req.ApplicantName} {
		if suspicious, names := g.sanitizer.Detect(value); suspicious {
			for _, name := range names {
				if !seen[name] {
					seen[name] = true
					matched = append(matched, name)
				}
			}
		}
	}
	return matched
}

// PreparePrompt builds the downstream prompt for an admitted request:
// security preamble, fixed template, and cleaned, delimited user values.
func (g *Gateway) PreparePrompt(req Request) string {
	return g.sanitizer.BuildSafePrompt(coverLetterTemplate, map[string]string{
		"applicant_name":  req.ApplicantName,
		"role_title":      req.RoleTitle,
		"company_name":    req.CompanyName,
		"job_description": req.JobDescription,
	})
}

// ScreenResponse applies the advisory output screen to generated content.
// A flagged response is audited and logged but still returned to the
// caller; screening never hard-fails a generation.
func (g *Gateway) ScreenResponse(req Request, generated string) {
	if safe, message := g.sanitizer.CheckResponse(generated); !safe {
		g.auditLog.Log(audit.Event{
			Kind:       audit.KindResponseFlagged,
			Identifier: req.ClientID,
			RequestID:  req.RequestID,
			Message:    message,
		})
		g.log.Warn(req.ClientID, req.RequestID, "Generated response flagged by output screen", map[string]interface{}{
			"detail": message,
		})
	}
}

// RecordGeneration audits the outcome of the downstream generation call.
func (g *Gateway) RecordGeneration(req Request, success bool, durationMS float64, detail string) {
	g.auditLog.LogGenerationOutcome(req.ClientID, req.RequestID, success, durationMS, detail)
}

// Quota reports the remaining request budget per tier for a client.
func (g *Gateway) Quota(ctx context.Context, clientID string, tiers []string) (map[string]int, error) {
	remaining := make(map[string]int, len(tiers))
	for _, tier := range tiers {
		n, err := g.limiter.Remaining(ctx, clientID, tier)
		if err != nil {
			return nil, err
		}
		remaining[tier] = n
	}
	return remaining, nil
}

// ResetQuota clears every tier for a client and audits the action.
func (g *Gateway) ResetQuota(ctx context.Context, clientID, actor string) error {
	if err := g.limiter.Reset(ctx, clientID); err != nil {
		return err
	}
	g.auditLog.Log(audit.Event{
		Kind:       audit.KindAdminReset,
		Identifier: clientID,
		Message:    "rate-limit state reset by " + actor,
	})
	return nil
}

// Audit forwards an event to the audit log. Fire and forget.
func (g *Gateway) Audit(ev audit.Event) {
	g.auditLog.Log(ev)
}

// Validator exposes the field validator for endpoints that check inputs
// outside the generation path, such as document uploads.
func (g *Gateway) Validator() *validate.Validator {
	return g.validator
}
