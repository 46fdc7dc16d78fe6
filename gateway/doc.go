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

// Package gateway is the admission-control front for the CoverForge
// generation service. Every request passes three gates in order before the
// expensive downstream call is made:
//
//  1. field validation (gateway/validate): syntactic checks and injection
//     signature screening over the structured request fields,
//  2. prompt sanitization (gateway/sanitize): advisory detection plus
//     neutralization of prompt-injection content, and
//  3. rate limiting (gateway/ratelimit): multi-tier sliding windows,
//     in-memory or backed by a shared Redis store.
//
// Denials never consume quota, and every denial or neutralization is
// recorded through the append-only audit log (gateway/audit).
package gateway
