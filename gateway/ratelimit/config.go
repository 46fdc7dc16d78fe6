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
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier names, ordered by increasing window length.
const (
	TierBurst  = "burst"
	TierHourly = "hourly"
	TierDaily  = "daily"
)

// TierConfig holds one quota window: at most MaxRequests admissions within
// any trailing span of Window.
type TierConfig struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

// UnmarshalYAML accepts windows in time.ParseDuration form ("10m", "24h"),
// which plain yaml decoding of time.Duration does not.
func (t *TierConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRequests int    `yaml:"max_requests"`
		Window      string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	t.MaxRequests = raw.MaxRequests
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("ratelimit: invalid window %q: %w", raw.Window, err)
		}
		t.Window = d
	}
	return nil
}

// Config holds the rate limiter configuration. A request must pass every
// configured tier to be admitted.
type Config struct {
	Tiers map[string]TierConfig `yaml:"tiers" json:"tiers"`

	// MaxTrackedIdentifiers caps the number of distinct identifiers the
	// in-memory limiter tracks. Least-recently-active records are evicted
	// first once the ceiling is exceeded.
	MaxTrackedIdentifiers int `yaml:"max_tracked_identifiers" json:"max_tracked_identifiers"`

	// CompactEvery triggers a compaction pass after this many admission
	// checks.
	CompactEvery int `yaml:"compact_every" json:"compact_every"`

	// CompactInterval triggers a compaction pass after this much time,
	// whichever of the two triggers fires first.
	CompactInterval time.Duration `yaml:"compact_interval" json:"compact_interval"`
}

// UnmarshalYAML decodes the config with duration strings for
// compact_interval, overriding only the fields the document sets so yaml
// input layers over defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Tiers                 map[string]TierConfig `yaml:"tiers"`
		MaxTrackedIdentifiers int                   `yaml:"max_tracked_identifiers"`
		CompactEvery          int                   `yaml:"compact_every"`
		CompactInterval       string                `yaml:"compact_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Tiers != nil {
		c.Tiers = raw.Tiers
	}
	if raw.MaxTrackedIdentifiers != 0 {
		c.MaxTrackedIdentifiers = raw.MaxTrackedIdentifiers
	}
	if raw.CompactEvery != 0 {
		c.CompactEvery = raw.CompactEvery
	}
	if raw.CompactInterval != "" {
		d, err := time.ParseDuration(raw.CompactInterval)
		if err != nil {
			return fmt.Errorf("ratelimit: invalid compact_interval %q: %w", raw.CompactInterval, err)
		}
		c.CompactInterval = d
	}
	return nil
}

// DefaultConfig returns the production defaults: a short burst window plus
// hourly and daily quotas.
func DefaultConfig() Config {
	return Config{
		Tiers: map[string]TierConfig{
			TierBurst:  {MaxRequests: 5, Window: 10 * time.Minute},
			TierHourly: {MaxRequests: 20, Window: time.Hour},
			TierDaily:  {MaxRequests: 50, Window: 24 * time.Hour},
		},
		MaxTrackedIdentifiers: 10000,
		CompactEvery:          1024,
		CompactInterval:       5 * time.Minute,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("ratelimit: at least one tier is required")
	}
	for name, tier := range c.Tiers {
		if tier.MaxRequests < 1 {
			return fmt.Errorf("ratelimit: tier %q max_requests must be >= 1, got %d", name, tier.MaxRequests)
		}
		if tier.Window <= 0 {
			return fmt.Errorf("ratelimit: tier %q window must be positive, got %s", name, tier.Window)
		}
	}
	if c.MaxTrackedIdentifiers < 1 {
		return fmt.Errorf("ratelimit: max_tracked_identifiers must be >= 1, got %d", c.MaxTrackedIdentifiers)
	}
	return nil
}

// tierDef is a named tier resolved from the config map.
type tierDef struct {
	name string
	TierConfig
}

// sortedTiers returns the configured tiers in strictly increasing window
// order, so the tightest violated limit produces the most actionable error.
func (c Config) sortedTiers() []tierDef {
	tiers := make([]tierDef, 0, len(c.Tiers))
	for name, tc := range c.Tiers {
		tiers = append(tiers, tierDef{name: name, TierConfig: tc})
	}
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].Window != tiers[j].Window {
			return tiers[i].Window < tiers[j].Window
		}
		return tiers[i].name < tiers[j].name
	})
	return tiers
}
