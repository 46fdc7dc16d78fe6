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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"coverforge/platform/gateway/ratelimit"
)

// Config carries the deploy-time settings for the gateway service. Values
// come from an optional YAML file with environment-variable overrides.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// GeneratorURL is the downstream content-generation endpoint. Empty
	// means the built-in echo generator, which is only useful in tests and
	// local development.
	GeneratorURL string `yaml:"generator_url"`

	// RedisURL enables the shared rate-limit counter store when set.
	// Empty means per-instance in-memory limiting.
	RedisURL string `yaml:"redis_url"`

	// RedisPolicy selects degradation behavior when the shared store is
	// unreachable: "fail_open" (default) or "fail_closed".
	RedisPolicy string `yaml:"redis_policy"`

	// DatabaseURL enables the PostgreSQL audit sink when set.
	DatabaseURL string `yaml:"database_url"`

	AuditFallbackPath string `yaml:"audit_fallback_path"`

	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() Config {
	return Config{
		Port:              "8080",
		AllowedOrigins:    []string{"*"},
		RedisPolicy:       "fail_open",
		AuditFallbackPath: "audit_fallback.jsonl",
		UploadDir:         os.TempDir(),
		MaxUploadBytes:    5 << 20,
		RateLimit:         ratelimit.DefaultConfig(),
	}
}

// LoadConfig builds the effective configuration: defaults, then the YAML
// file at path (when non-empty), then environment-variable overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("gateway: failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("gateway: failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.GeneratorURL = getEnv("GENERATOR_URL", cfg.GeneratorURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPolicy = getEnv("RATE_LIMIT_POLICY", cfg.RedisPolicy)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.AuditFallbackPath = getEnv("AUDIT_FALLBACK_PATH", cfg.AuditFallbackPath)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)

	if cfg.RedisPolicy != "fail_open" && cfg.RedisPolicy != "fail_closed" {
		return cfg, fmt.Errorf("gateway: invalid redis_policy %q (want fail_open or fail_closed)", cfg.RedisPolicy)
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
