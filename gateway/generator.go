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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Generator is the downstream content-generation call the gateway fronts.
// The provider behind it is a black box; the gateway only controls what
// reaches it and records what comes back.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxWords int) (string, error)
}

// HTTPGenerator calls a generation service over HTTP.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGenerator returns a Generator posting to the given endpoint.
func NewHTTPGenerator(endpoint string) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	MaxWords int    `json:"max_words,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, maxWords int) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, MaxWords: maxWords})
	if err != nil {
		return "", fmt.Errorf("generator: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generator: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generator: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("generator: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator: unexpected status %d: %s", resp.StatusCode, data)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("generator: failed to decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generator: provider error: %s", out.Error)
	}
	return out.Text, nil
}

// EchoGenerator returns the prompt unchanged. It stands in for the real
// provider in tests and local development.
type EchoGenerator struct{}

func (EchoGenerator) Generate(_ context.Context, prompt string, _ int) (string, error) {
	return prompt, nil
}
