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
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfig_UnmarshalYAML(t *testing.T) {
	doc := `
tiers:
  burst:
    max_requests: 5
    window: 10m
  hourly:
    max_requests: 20
    window: 1h
  daily:
    max_requests: 50
    window: 24h
max_tracked_identifiers: 500
compact_every: 256
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if got := cfg.Tiers[TierBurst]; got.MaxRequests != 5 || got.Window != 10*time.Minute {
		t.Errorf("burst tier = %+v, want {5 10m}", got)
	}
	if got := cfg.Tiers[TierDaily]; got.Window != 24*time.Hour {
		t.Errorf("daily window = %s, want 24h", got.Window)
	}
	if cfg.MaxTrackedIdentifiers != 500 {
		t.Errorf("max_tracked_identifiers = %d, want 500", cfg.MaxTrackedIdentifiers)
	}
}

func TestConfig_UnmarshalYAML_BadWindow(t *testing.T) {
	doc := `
tiers:
  burst:
    max_requests: 5
    window: ten minutes
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err == nil {
		t.Fatal("yaml.Unmarshal() accepted a malformed window")
	}
}
