// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoner

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient runs completions against a local Ollama server. This is the
// default tier-2 backend: everything stays on the box.
//
// Thread Safety: Safe for concurrent use.
type OllamaClient struct {
	model string
	llm   *ollama.LLM
}

// NewOllamaClient creates an OllamaClient for model at serverURL
// (e.g. "http://localhost:11434").
func NewOllamaClient(model, serverURL string) (*OllamaClient, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: creating client: %w", err)
	}
	return &OllamaClient{model: model, llm: llm}, nil
}

// Name implements Client.
func (o *OllamaClient) Name() string { return "ollama/" + o.model }

// Complete implements Client. Temperature is pinned low: the classifier
// needs stable JSON, not creativity.
func (o *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithTemperature(0.1),
	)
	if err != nil {
		return "", fmt.Errorf("ollama: completion: %w", err)
	}
	return out, nil
}
