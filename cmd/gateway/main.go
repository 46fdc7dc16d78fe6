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

// Package main is the entry point for the CoverForge gateway service.
//
// The gateway is the admission-control front for content generation:
// - Validates and screens structured request fields
// - Neutralizes prompt-injection content before prompt assembly
// - Enforces multi-tier sliding-window rate limits
// - Records every denial in the security audit log
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	CONFIG_FILE - optional YAML configuration file
//	GENERATOR_URL - downstream generation service endpoint
//	REDIS_URL - shared rate-limit counter store (optional)
//	RATE_LIMIT_POLICY - fail_open or fail_closed (default: fail_open)
//	DATABASE_URL - PostgreSQL audit sink (optional)
//	AUDIT_FALLBACK_PATH - JSONL fallback file for audit events
package main

import (
	"coverforge/platform/gateway"
)

func main() {
	gateway.Run()
}
