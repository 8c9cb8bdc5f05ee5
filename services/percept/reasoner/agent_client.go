// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type agentRequest struct {
	Prompt string `json:"prompt"`
}

type agentResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// AgentClient talks to a self-hosted reasoning agent over HTTP. The agent
// exposes a single completion endpoint taking {"prompt": ...} and
// returning {"text": ...}.
//
// Thread Safety: Safe for concurrent use.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAgentClient creates an AgentClient pointed at baseURL.
func NewAgentClient(baseURL string, logger *slog.Logger) *AgentClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Name implements Client.
func (a *AgentClient) Name() string { return "agent" }

// Complete implements Client.
func (a *AgentClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(agentRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("agent: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("agent: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("agent: reading response body (status %d): %w", resp.StatusCode, err)
	}
	a.logger.Debug("agent completion",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent: API returned status %d", resp.StatusCode)
	}

	var parsed agentResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("agent: unmarshaling response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("agent: %s", parsed.Error)
	}
	return parsed.Text, nil
}
