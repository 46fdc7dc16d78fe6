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
Package logger provides structured JSON logging for CoverForge components.

# Overview

The logger outputs single-line JSON to stdout so logs can be consumed by
CloudWatch, ELK, or any other aggregation system without extra parsing.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, etc.)
  - Instance ID and container name (for distributed tracing)
  - Client ID (the rate-limited caller)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with client and request context:

	log.Info("client-123", "req-456", "Request admitted", map[string]interface{}{
	    "path": "/api/v1/generate",
	})

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level to emit (default INFO)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
