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

package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Verdict is the outcome of an admission check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Tier    string `json:"tier,omitempty"`
	Message string `json:"message,omitempty"`

	// RetryAfter is the number of seconds until the denying tier frees a
	// slot. Zero when the request is allowed.
	RetryAfter int `json:"retry_after,omitempty"`

	// Degraded is set when the verdict came from the fail-open/fail-closed
	// policy because the shared counter store was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// Store is the admission-check interface shared by the in-memory limiter and
// the Redis-backed store.
type Store interface {
	// Check evaluates and, when allowed, consumes one slot in a single tier.
	Check(ctx context.Context, identifier, tier string) (Verdict, error)

	// CheckAll evaluates tiers in increasing window order, short-circuiting
	// on the first denial. A slot is consumed in every passed tier.
	CheckAll(ctx context.Context, identifier string) (Verdict, error)

	// Remaining reports the free slots in a tier without consuming one.
	Remaining(ctx context.Context, identifier, tier string) (int, error)

	// Reset purges all tier records for an identifier (admin override).
	Reset(ctx context.Context, identifier string) error
}

// record tracks one identifier's admission timestamps per tier.
type record struct {
	stamps   map[string][]time.Time
	lastSeen time.Time
}

// Limiter is the in-process sliding-window rate limiter. A single mutex
// guards the whole table; hold times are microseconds, so a finer-grained
// scheme has not been worth the complexity.
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	tiers       []tierDef
	records     map[string]*record
	checks      int
	lastCompact time.Time

	// now is injected for tests.
	now func() time.Time
}

// NewLimiter creates an in-memory limiter from the configuration.
func NewLimiter(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:         cfg,
		tiers:       cfg.sortedTiers(),
		records:     make(map[string]*record),
		lastCompact: time.Now(),
		now:         time.Now,
	}, nil
}

// Check evaluates a single tier for the identifier. The prune, the count
// comparison, and the timestamp append form one critical section: two
// concurrent checks can never both observe the same free slot.
func (l *Limiter) Check(_ context.Context, identifier, tier string) (Verdict, error) {
	td, found := l.tierDef(tier)
	if !found {
		return Verdict{}, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.checkLocked(identifier, td)
	l.maybeCompactLocked()
	return v, nil
}

// CheckAll evaluates every configured tier in increasing window order inside
// one critical section, short-circuiting on the first denial.
func (l *Limiter) CheckAll(_ context.Context, identifier string) (Verdict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.maybeCompactLocked()

	for _, td := range l.tiers {
		if v := l.checkLocked(identifier, td); !v.Allowed {
			return v, nil
		}
	}
	return Verdict{Allowed: true}, nil
}

// Remaining reports free slots in a tier without consuming one.
func (l *Limiter) Remaining(_ context.Context, identifier, tier string) (int, error) {
	td, found := l.tierDef(tier)
	if !found {
		return 0, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	live := 0
	if rec := l.records[identifier]; rec != nil {
		cutoff := l.now().Add(-td.Window)
		for _, ts := range rec.stamps[tier] {
			if ts.After(cutoff) {
				live++
			}
		}
	}
	if remaining := td.MaxRequests - live; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset purges all tier records for the identifier.
func (l *Limiter) Reset(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identifier)
	return nil
}

// TrackedIdentifiers reports how many identifiers currently have records.
func (l *Limiter) TrackedIdentifiers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Compact runs a compaction pass immediately, regardless of triggers.
func (l *Limiter) Compact() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.compactLocked(l.now())
}

func (l *Limiter) tierDef(tier string) (tierDef, bool) {
	for _, td := range l.tiers {
		if td.name == tier {
			return td, true
		}
	}
	return tierDef{}, false
}

// checkLocked implements the sliding-window check for one tier. Callers hold
// l.mu.
func (l *Limiter) checkLocked(identifier string, td tierDef) Verdict {
	now := l.now()

	rec := l.records[identifier]
	if rec == nil {
		rec = &record{stamps: make(map[string][]time.Time)}
		l.records[identifier] = rec
	}

	// A timestamp is never counted once its window has elapsed. The fence is
	// exclusive: age == window means expired.
	cutoff := now.Add(-td.Window)
	live := pruneStamps(rec.stamps[td.name], cutoff)
	rec.stamps[td.name] = live

	if len(live) >= td.MaxRequests {
		oldest := live[0]
		retry := int(oldest.Add(td.Window).Sub(now).Seconds() + 0.999)
		if retry < 1 {
			retry = 1
		}
		return Verdict{
			Allowed:    false,
			Tier:       td.name,
			Message:    fmt.Sprintf("%s limit of %d requests per %s exceeded", td.name, td.MaxRequests, td.Window),
			RetryAfter: retry,
		}
	}

	rec.stamps[td.name] = append(live, now)
	rec.lastSeen = now
	return Verdict{Allowed: true, Tier: td.name}
}

// pruneStamps drops timestamps at or before the cutoff. Stamps are appended
// in time order, so the first survivor ends the scan.
func pruneStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

// maybeCompactLocked runs compaction when either the check-count or the
// elapsed-time trigger fires. Callers hold l.mu.
func (l *Limiter) maybeCompactLocked() {
	l.checks++
	now := l.now()
	if l.checks < l.cfg.CompactEvery && now.Sub(l.lastCompact) < l.cfg.CompactInterval {
		return
	}
	l.compactLocked(now)
}

// compactLocked deletes fully-expired records, then evicts the
// least-recently-active identifiers until the table is under the ceiling.
// Callers hold l.mu.
func (l *Limiter) compactLocked(now time.Time) {
	l.checks = 0
	l.lastCompact = now

	for id, rec := range l.records {
		empty := true
		for _, td := range l.tiers {
			cutoff := now.Add(-td.Window)
			rec.stamps[td.name] = pruneStamps(rec.stamps[td.name], cutoff)
			if len(rec.stamps[td.name]) > 0 {
				empty = false
			}
		}
		if empty {
			delete(l.records, id)
		}
	}

	if len(l.records) <= l.cfg.MaxTrackedIdentifiers {
		return
	}

	type idAge struct {
		id       string
		lastSeen time.Time
	}
	byAge := make([]idAge, 0, len(l.records))
	for id, rec := range l.records {
		byAge = append(byAge, idAge{id: id, lastSeen: rec.lastSeen})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].lastSeen.Before(byAge[j].lastSeen) })

	for _, entry := range byAge {
		if len(l.records) <= l.cfg.MaxTrackedIdentifiers {
			break
		}
		delete(l.records, entry.id)
	}
}
