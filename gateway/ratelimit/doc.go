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

/*
Package ratelimit enforces several simultaneous sliding-window quotas per
caller identifier. A request must pass every configured tier (burst, hourly,
daily) to be admitted; tiers are evaluated in increasing window order so the
tightest violated limit produces the most actionable error.

Two interchangeable stores implement the same semantics:

  - Limiter: in-process, a mutex-guarded timestamp table with bounded memory.
    Fully-expired records are compacted away and, past a configurable ceiling
    of tracked identifiers, the least-recently-active records are evicted.

  - RedisStore: a shared counter store for multi-instance deployments. The
    prune/count/append sequence runs as one atomic server-side script, and
    backend failures degrade to a configurable fail-open or fail-closed
    policy instead of taking the gateway down.

The core invariant in both: a timestamp is never counted against a quota
after its window has elapsed, and no two concurrent checks can consume the
same slot.
*/
package ratelimit
