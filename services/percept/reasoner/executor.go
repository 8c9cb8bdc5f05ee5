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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

var dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "percept",
	Subsystem: "executor",
	Name:      "dispatch_total",
	Help:      "Action dispatches by outcome",
}, []string{"outcome"})

// Executor hands an approved action to whatever carries it out.
type Executor interface {
	Dispatch(ctx context.Context, req *datatypes.ActionRequest) error
}

// HTTPExecutor POSTs the action to a downstream webhook as JSON. The
// downstream service owns actual side effects (sending the email, setting
// the timer); the Percept core only decides and forwards.
//
// Thread Safety: Safe for concurrent use.
type HTTPExecutor struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPExecutor creates an HTTPExecutor for endpoint.
func NewHTTPExecutor(endpoint string, logger *slog.Logger) *HTTPExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Dispatch implements Executor.
func (e *HTTPExecutor) Dispatch(ctx context.Context, req *datatypes.ActionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("executor: marshaling action: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.endpoint, bytes.NewBuffer(body))
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("executor: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("executor: sending action: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		dispatchTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("executor: downstream returned status %d", resp.StatusCode)
	}

	dispatchTotal.WithLabelValues("ok").Inc()
	e.logger.Info("action dispatched",
		slog.String("action", req.ID),
		slog.String("intent", req.Intent),
	)
	return nil
}

// LogExecutor records actions without side effects. Used when no
// downstream endpoint is configured.
type LogExecutor struct {
	Logger *slog.Logger
}

// Dispatch implements Executor.
func (e *LogExecutor) Dispatch(_ context.Context, req *datatypes.ActionRequest) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatchTotal.WithLabelValues("logged").Inc()
	logger.Info("action ready (no executor configured)",
		slog.String("action", req.ID),
		slog.String("intent", req.Intent),
		slog.Bool("human_required", req.HumanRequired),
	)
	return nil
}
