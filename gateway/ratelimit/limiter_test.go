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
	"sync"
	"testing"
	"time"
)

// testClock drives an injected now() so window expiry does not depend on
// wall-clock sleeps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *testClock) {
	t.Helper()
	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	clock := newTestClock()
	l.now = clock.Now
	l.lastCompact = clock.Now()
	return l, clock
}

func singleTierConfig(tier string, max int, window time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Tiers = map[string]TierConfig{tier: {MaxRequests: max, Window: window}}
	return cfg
}

func TestNewLimiter_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default config is valid", func(c *Config) {}, false},
		{"no tiers", func(c *Config) { c.Tiers = nil }, true},
		{"zero max requests", func(c *Config) {
			c.Tiers[TierBurst] = TierConfig{MaxRequests: 0, Window: time.Minute}
		}, true},
		{"negative window", func(c *Config) {
			c.Tiers[TierBurst] = TierConfig{MaxRequests: 1, Window: -time.Minute}
		}, true},
		{"zero ceiling", func(c *Config) { c.MaxTrackedIdentifiers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewLimiter(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLimiter error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheck_AdmitsExactlyN(t *testing.T) {
	const max = 3
	l, _ := newTestLimiter(t, singleTierConfig(TierBurst, max, time.Minute))
	ctx := context.Background()

	for i := 0; i < max; i++ {
		v, err := l.Check(ctx, "u1", TierBurst)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !v.Allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}

	v, err := l.Check(ctx, "u1", TierBurst)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Allowed {
		t.Fatal("call 4 allowed, want denied")
	}
	if v.Tier != TierBurst {
		t.Errorf("denial tier = %q, want %q", v.Tier, TierBurst)
	}
	if v.RetryAfter < 1 || v.RetryAfter > 60 {
		t.Errorf("RetryAfter = %d, want within (0, 60]", v.RetryAfter)
	}

	// Another identifier is unaffected.
	v, _ = l.Check(ctx, "u2", TierBurst)
	if !v.Allowed {
		t.Error("independent identifier was denied")
	}
}

func TestCheck_WindowElapseRestoresQuota(t *testing.T) {
	const max = 2
	window := 10 * time.Minute
	l, clock := newTestLimiter(t, singleTierConfig(TierBurst, max, window))
	ctx := context.Background()

	for i := 0; i < max; i++ {
		if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
			t.Fatalf("warm-up call %d denied", i+1)
		}
	}
	if v, _ := l.Check(ctx, "u1", TierBurst); v.Allowed {
		t.Fatal("saturated tier still admitted")
	}

	clock.Advance(window + time.Second)

	remaining, err := l.Remaining(ctx, "u1", TierBurst)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != max {
		t.Errorf("Remaining after window elapse = %d, want %d", remaining, max)
	}
	if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
		t.Error("request denied after full window elapse")
	}
}

func TestCheck_ExclusiveWindowFence(t *testing.T) {
	window := time.Minute
	l, clock := newTestLimiter(t, singleTierConfig(TierBurst, 1, window))
	ctx := context.Background()

	if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
		t.Fatal("first call denied")
	}

	// Exactly at the fence, age == window counts as expired.
	clock.Advance(window)
	if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
		t.Error("request at exact window boundary denied, want allowed")
	}
}

func TestCheck_UnknownTier(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())
	if _, err := l.Check(context.Background(), "u1", "weekly"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if _, err := l.Remaining(context.Background(), "u1", "weekly"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestCheckAll_TierOrderAndShortCircuit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = map[string]TierConfig{
		TierBurst:  {MaxRequests: 1, Window: time.Minute},
		TierHourly: {MaxRequests: 5, Window: time.Hour},
	}
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	if v, _ := l.CheckAll(ctx, "u1"); !v.Allowed {
		t.Fatal("first request denied")
	}

	v, _ := l.CheckAll(ctx, "u1")
	if v.Allowed {
		t.Fatal("second request allowed, want burst denial")
	}
	if v.Tier != TierBurst {
		t.Errorf("denial tier = %q, want %q (tightest first)", v.Tier, TierBurst)
	}

	// The denied request must not have consumed an hourly slot.
	remaining, _ := l.Remaining(ctx, "u1", TierHourly)
	if remaining != 4 {
		t.Errorf("hourly remaining = %d, want 4 (one admission only)", remaining)
	}
}

func TestRemaining_NonMutating(t *testing.T) {
	l, _ := newTestLimiter(t, singleTierConfig(TierBurst, 5, time.Minute))
	ctx := context.Background()

	if _, err := l.Check(ctx, "u1", TierBurst); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		remaining, err := l.Remaining(ctx, "u1", TierBurst)
		if err != nil {
			t.Fatal(err)
		}
		if remaining != 4 {
			t.Fatalf("Remaining call %d = %d, want stable 4", i, remaining)
		}
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t, singleTierConfig(TierBurst, 1, time.Hour))
	ctx := context.Background()

	if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
		t.Fatal("first call denied")
	}
	if v, _ := l.Check(ctx, "u1", TierBurst); v.Allowed {
		t.Fatal("second call allowed on saturated tier")
	}

	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v, _ := l.Check(ctx, "u1", TierBurst); !v.Allowed {
		t.Error("call denied after administrative reset")
	}
}

func TestCompaction_EvictionCeiling(t *testing.T) {
	cfg := singleTierConfig(TierBurst, 5, time.Hour)
	cfg.MaxTrackedIdentifiers = 10
	cfg.CompactEvery = 1 // compact on every check
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("user-%d", i)
		if _, err := l.Check(ctx, id, TierBurst); err != nil {
			t.Fatal(err)
		}
		if tracked := l.TrackedIdentifiers(); tracked > cfg.MaxTrackedIdentifiers {
			t.Fatalf("after insert %d: tracked %d exceeds ceiling %d", i, tracked, cfg.MaxTrackedIdentifiers)
		}
	}
}

func TestCompaction_DropsExpiredRecords(t *testing.T) {
	cfg := singleTierConfig(TierBurst, 5, time.Minute)
	l, clock := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := l.Check(ctx, fmt.Sprintf("user-%d", i), TierBurst); err != nil {
			t.Fatal(err)
		}
	}
	if l.TrackedIdentifiers() != 20 {
		t.Fatalf("tracked = %d, want 20", l.TrackedIdentifiers())
	}

	clock.Advance(2 * time.Minute)
	l.Compact()

	if tracked := l.TrackedIdentifiers(); tracked != 0 {
		t.Errorf("tracked after full expiry = %d, want 0", tracked)
	}
}

func TestCompaction_EvictsLeastRecentlyActiveFirst(t *testing.T) {
	cfg := singleTierConfig(TierBurst, 100, time.Hour)
	cfg.MaxTrackedIdentifiers = 2
	cfg.CompactEvery = 1000000 // manual compaction only
	cfg.CompactInterval = time.Hour * 24
	l, clock := newTestLimiter(t, cfg)
	ctx := context.Background()

	_, _ = l.Check(ctx, "oldest", TierBurst)
	clock.Advance(time.Minute)
	_, _ = l.Check(ctx, "middle", TierBurst)
	clock.Advance(time.Minute)
	_, _ = l.Check(ctx, "newest", TierBurst)

	l.Compact()

	if tracked := l.TrackedIdentifiers(); tracked != 2 {
		t.Fatalf("tracked = %d, want 2", tracked)
	}
	// The evicted record was the least recently active one.
	remaining, _ := l.Remaining(ctx, "oldest", TierBurst)
	if remaining != 100 {
		t.Errorf("oldest should have been evicted (remaining = %d, want full quota)", remaining)
	}
	remaining, _ = l.Remaining(ctx, "newest", TierBurst)
	if remaining != 99 {
		t.Errorf("newest should have survived (remaining = %d, want 99)", remaining)
	}
}

func TestCheckAll_ConcurrentSingleSlot(t *testing.T) {
	cfg := singleTierConfig(TierBurst, 1, time.Hour)
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	results := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.CheckAll(ctx, "contended")
			if err != nil {
				t.Errorf("CheckAll: %v", err)
				return
			}
			results[i] = v.Allowed
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, allowed := range results {
		if allowed {
			admitted++
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
}

func TestCheck_BurstScenario(t *testing.T) {
	// burst = {max_requests: 2, window: 10m}: three immediate calls yield
	// [allowed, allowed, denied] and the denial's retry hint fits the window.
	l, _ := newTestLimiter(t, singleTierConfig(TierBurst, 2, 10*time.Minute))
	ctx := context.Background()

	var verdicts []Verdict
	for i := 0; i < 3; i++ {
		v, err := l.Check(ctx, "u1", TierBurst)
		if err != nil {
			t.Fatal(err)
		}
		verdicts = append(verdicts, v)
	}

	if !verdicts[0].Allowed || !verdicts[1].Allowed || verdicts[2].Allowed {
		t.Fatalf("verdicts = [%v %v %v], want [allowed allowed denied]",
			verdicts[0].Allowed, verdicts[1].Allowed, verdicts[2].Allowed)
	}
	if verdicts[2].RetryAfter <= 0 || verdicts[2].RetryAfter > 600 {
		t.Errorf("RetryAfter = %d, want positive and <= 600", verdicts[2].RetryAfter)
	}
}

func TestSortedTiers_IncreasingWindowOrder(t *testing.T) {
	cfg := DefaultConfig()
	tiers := cfg.sortedTiers()

	if len(tiers) != 3 {
		t.Fatalf("got %d tiers, want 3", len(tiers))
	}
	want := []string{TierBurst, TierHourly, TierDaily}
	for i, name := range want {
		if tiers[i].name != name {
			t.Errorf("tiers[%d] = %q, want %q", i, tiers[i].name, name)
		}
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Window <= tiers[i-1].Window {
			t.Errorf("tier windows not strictly increasing at %d", i)
		}
	}
}
