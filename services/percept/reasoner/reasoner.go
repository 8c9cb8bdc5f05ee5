// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reasoner holds the external language-model clients the intent
// classifier and conversation summarizer escalate to, plus the executor
// that dispatches approved actions downstream.
package reasoner

import (
	"context"
)

// Client is one prompt-in, text-out reasoning backend.
type Client interface {
	// Complete sends prompt and returns the model's raw text response.
	// Implementations must honor ctx cancellation and deadlines.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name identifies the backend for logging and cache keys.
	Name() string
}
