// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stt is the speech-to-text collaborator boundary. Percept does
// not transcribe audio itself; flushed PCM goes to an external service
// that returns diarized segments.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// Transcriber turns raw PCM into diarized transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]datatypes.Segment, error)
}

type transcribeResponse struct {
	Segments []datatypes.Segment `json:"segments"`
	Error    string              `json:"error,omitempty"`
}

// HTTPTranscriber posts 16-bit mono PCM to a transcription endpoint and
// decodes the segment list it returns.
//
// Thread Safety: Safe for concurrent use.
type HTTPTranscriber struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTranscriber creates an HTTPTranscriber for endpoint.
func NewHTTPTranscriber(endpoint string, logger *slog.Logger) *HTTPTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTranscriber{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]datatypes.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, bytes.NewReader(pcm))
	if err != nil {
		return nil, fmt.Errorf("stt: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt: sending audio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stt: reading response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stt: service returned status %d", resp.StatusCode)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("stt: decoding response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("stt: %s", parsed.Error)
	}

	t.logger.Debug("transcribed audio",
		slog.Int("bytes", len(pcm)),
		slog.Int("segments", len(parsed.Segments)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return parsed.Segments, nil
}
