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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"coverforge/platform/shared/logger"
)

// Kind identifies the gate decision or outcome an event records.
type Kind string

const (
	KindValidationFailure Kind = "validation_failure"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindInjectionAttempt  Kind = "injection_attempt"
	KindResponseFlagged   Kind = "response_flagged"
	KindGenerationCall    Kind = "generation_call"
	KindBackendDegraded   Kind = "backend_degraded"
	KindAdminReset        Kind = "admin_reset"
)

// Severity levels for audit events.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// KindSeverity maps event kinds to their default severity.
func KindSeverity(kind Kind) string {
	switch kind {
	case KindInjectionAttempt:
		return SeverityHigh
	case KindValidationFailure, KindResponseFlagged:
		return SeverityMedium
	case KindRateLimitExceeded, KindBackendDegraded:
		return SeverityLow
	case KindGenerationCall, KindAdminReset:
		return SeverityInfo
	default:
		return SeverityLow
	}
}

// Event is one append-only security audit record.
type Event struct {
	Kind       Kind                   `json:"kind"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   string                 `json:"severity"`
	Identifier string                 `json:"identifier,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`

	retries int
}

// Logger is the append-only security audit sink. With a database sink
// configured, events flow through a bounded queue to worker goroutines;
// queue overflow and persistent database failures fall back to an
// append-only JSONL file so no decision record is silently dropped.
// Without a database the fallback file is the sole destination and events
// are written to it synchronously.
type Logger struct {
	queue        chan Event
	workers      int
	wg           sync.WaitGroup
	db           *sql.DB
	fallbackFile *os.File
	log          *logger.Logger
	mu           sync.Mutex

	closeOnce sync.Once

	// Counters, guarded by mu.
	processed uint64
	failed    uint64
}

// Options configures the audit logger.
type Options struct {
	// DB is the optional database sink. When nil, every event goes to the
	// fallback file.
	DB *sql.DB

	// FallbackPath is the append-only JSONL file used when the queue is
	// full or the database is unavailable.
	FallbackPath string

	// QueueSize bounds the in-flight event queue. Default 1000.
	QueueSize int

	// Workers is the number of writer goroutines. Default 2.
	Workers int

	// Log receives operational warnings (not audit events themselves).
	Log *logger.Logger
}

// New creates and starts an audit logger.
func New(opts Options) (*Logger, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Log == nil {
		opts.Log = logger.New("audit")
	}

	fallbackFile, err := os.OpenFile(opts.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open fallback file: %w", err)
	}

	al := &Logger{
		queue:        make(chan Event, opts.QueueSize),
		workers:      opts.Workers,
		db:           opts.DB,
		fallbackFile: fallbackFile,
		log:          opts.Log,
	}

	for i := 0; i < al.workers; i++ {
		al.wg.Add(1)
		go al.worker(i)
	}

	return al, nil
}

// Log appends an event. It never fails: malformed metadata degrades to a
// best-effort serialization, and a full queue spills to the fallback file.
// Without a database sink the fallback file is the only destination, so the
// event is written synchronously instead of paying for the queue and the
// worker's retry loop.
func (al *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = KindSeverity(event.Kind)
	}

	if al.db == nil {
		al.mu.Lock()
		defer al.mu.Unlock()
		if err := al.writeToFallback(event); err != nil {
			al.log.Error(event.Identifier, event.RequestID, "Audit fallback write failed",
				map[string]interface{}{"error": err.Error(), "kind": string(event.Kind)})
		}
		return
	}

	select {
	case al.queue <- event:
	default:
		al.mu.Lock()
		defer al.mu.Unlock()
		if err := al.writeToFallback(event); err != nil {
			al.log.Error(event.Identifier, event.RequestID, "Audit queue full and fallback write failed",
				map[string]interface{}{"error": err.Error(), "kind": string(event.Kind)})
		}
	}
}

// LogValidationFailure records a validator denial.
func (al *Logger) LogValidationFailure(identifier, requestID, field, code, message string) {
	al.Log(Event{
		Kind:       KindValidationFailure,
		Identifier: identifier,
		RequestID:  requestID,
		Message:    message,
		Details: map[string]interface{}{
			"field": field,
			"code":  code,
		},
	})
}

// LogRateLimitExceeded records a rate-limiter denial.
func (al *Logger) LogRateLimitExceeded(identifier, requestID, tier string, retryAfter int) {
	al.Log(Event{
		Kind:       KindRateLimitExceeded,
		Identifier: identifier,
		RequestID:  requestID,
		Message:    fmt.Sprintf("rate limit exceeded on tier %s", tier),
		Details: map[string]interface{}{
			"tier":        tier,
			"retry_after": retryAfter,
		},
	})
}

// LogInjectionAttempt records a prompt-injection detection. The request
// still proceeds with cleaned text; the record exists for review.
func (al *Logger) LogInjectionAttempt(identifier, requestID string, patterns []string) {
	al.Log(Event{
		Kind:       KindInjectionAttempt,
		Identifier: identifier,
		RequestID:  requestID,
		Message:    "prompt-injection signatures detected and neutralized",
		Details: map[string]interface{}{
			"patterns": patterns,
		},
	})
}

// LogGenerationOutcome records the result of the downstream generation call.
func (al *Logger) LogGenerationOutcome(identifier, requestID string, success bool, durationMS float64, detail string) {
	al.Log(Event{
		Kind:       KindGenerationCall,
		Identifier: identifier,
		RequestID:  requestID,
		Message:    detail,
		Details: map[string]interface{}{
			"success":     success,
			"duration_ms": durationMS,
		},
	})
}

// LogBackendDegraded records a shared-store outage and the applied policy.
func (al *Logger) LogBackendDegraded(identifier, requestID, policy, errMsg string) {
	al.Log(Event{
		Kind:       KindBackendDegraded,
		Identifier: identifier,
		RequestID:  requestID,
		Message:    "rate-limit backend unavailable, degraded per policy",
		Details: map[string]interface{}{
			"policy": policy,
			"error":  errMsg,
		},
	})
}

// worker drains the queue into the database sink with retries, spilling to
// the fallback file when the sink stays unavailable.
func (al *Logger) worker(id int) {
	defer al.wg.Done()

	for event := range al.queue {
		var err error
		for retry := 0; retry < 3; retry++ {
			if err = al.writeToDB(event); err == nil {
				al.mu.Lock()
				al.processed++
				al.mu.Unlock()
				break
			}
			time.Sleep(time.Millisecond * time.Duration(100*(retry+1)))
			event.retries++
		}

		if err != nil {
			al.mu.Lock()
			al.failed++
			if fallbackErr := al.writeToFallback(event); fallbackErr != nil {
				al.log.Error(event.Identifier, event.RequestID, "Audit fallback write failed",
					map[string]interface{}{"worker": id, "error": fallbackErr.Error()})
			}
			al.mu.Unlock()
		}
	}
}

// writeToDB inserts one event into the security_audit_events table. When no
// database is configured it reports an error so the caller falls back.
func (al *Logger) writeToDB(event Event) error {
	if al.db == nil {
		return fmt.Errorf("audit: no database sink configured")
	}

	const insertQuery = `
		INSERT INTO security_audit_events (event_kind, severity, identifier, request_id, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := al.db.Exec(insertQuery,
		string(event.Kind),
		event.Severity,
		event.Identifier,
		event.RequestID,
		event.Message,
		marshalDetails(event.Details),
		event.Timestamp,
	)
	return err
}

// writeToFallback appends one event as a JSONL line. Callers hold al.mu.
func (al *Logger) writeToFallback(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		// Defensive best effort: drop the unserializable details, keep the record.
		event.Details = map[string]interface{}{"marshal_error": err.Error()}
		if data, err = json.Marshal(event); err != nil {
			return fmt.Errorf("audit: failed to marshal event: %w", err)
		}
	}

	if _, err := fmt.Fprintf(al.fallbackFile, "%s\n", data); err != nil {
		return fmt.Errorf("audit: failed to write fallback: %w", err)
	}
	return al.fallbackFile.Sync()
}

// marshalDetails serializes metadata defensively: a marshal failure yields a
// stringified placeholder instead of an error.
func marshalDetails(details map[string]interface{}) []byte {
	if details == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(details)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return data
}

// Stats reports queue counters for observability endpoints.
func (al *Logger) Stats() map[string]interface{} {
	al.mu.Lock()
	defer al.mu.Unlock()
	return map[string]interface{}{
		"processed": al.processed,
		"failed":    al.failed,
		"pending":   len(al.queue),
	}
}

// Shutdown stops the workers, draining queued events. If the context
// expires first, the remaining events go straight to the fallback file.
func (al *Logger) Shutdown(ctx context.Context) error {
	al.closeOnce.Do(func() { close(al.queue) })

	done := make(chan struct{})
	go func() {
		al.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return al.fallbackFile.Close()
	case <-ctx.Done():
		al.mu.Lock()
		for event := range al.queue {
			if err := al.writeToFallback(event); err != nil {
				al.log.Error("", "", "Audit drain write failed", map[string]interface{}{"error": err.Error()})
			}
		}
		al.mu.Unlock()
		_ = al.fallbackFile.Close()
		return ctx.Err()
	}
}
