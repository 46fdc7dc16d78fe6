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

// Package audit provides the append-only security audit log for the
// gateway. Every gate decision that denies, degrades, or neutralizes a
// request is recorded as a structured event.
//
// With a PostgreSQL sink configured, events are enqueued without blocking
// the request path and written by background workers; when the queue is
// full or the database stays unavailable after retries, events spill to
// an append-only JSONL file. Without a database, events go to that file
// directly and synchronously. Either way, recording an event can never
// fail and can never lose a decision record.
package audit
