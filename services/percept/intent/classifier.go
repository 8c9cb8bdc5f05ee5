// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/reasoner"
)

var (
	classifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "intent",
		Name:      "classify_total",
		Help:      "Classifications by tier and intent",
	}, []string{"tier", "intent"})

	classifyDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "intent",
		Name:      "degraded_total",
		Help:      "Tier-2 calls that failed or timed out and degraded to unknown",
	})

	reasonerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "percept",
		Subsystem: "intent",
		Name:      "reasoner_seconds",
		Help:      "Tier-2 reasoner latency",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

var tracer = otel.Tracer("percept/intent")

// jsonBlock pulls the outermost JSON object out of a model response that
// may wrap it in prose or markdown fencing.
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

var knownIntents = map[string]bool{
	datatypes.IntentEmail:    true,
	datatypes.IntentText:     true,
	datatypes.IntentReminder: true,
	datatypes.IntentSearch:   true,
	datatypes.IntentNote:     true,
	datatypes.IntentOrder:    true,
	datatypes.IntentCalendar: true,
	datatypes.IntentUnknown:  true,
}

// ClassifierOptions configures the tier-2 escalation.
type ClassifierOptions struct {
	// ReasonerTimeout bounds a single tier-2 call.
	ReasonerTimeout time.Duration

	// HumanFloor is the confidence below which an unknown tier-2 result
	// is flagged for human review.
	HumanFloor float64
}

// Classifier is the two-tier intent classifier: an ordered deterministic
// rule set first, an external reasoner for everything the rules don't
// cover. The reasoner path never blocks the pipeline past the configured
// timeout; on failure it degrades to an unknown result rather than
// returning an error.
//
// Thread Safety: Safe for concurrent use. Identical concurrent phrases
// share one reasoner call.
type Classifier struct {
	rules  *Rules
	client reasoner.Client
	cache  *Cache
	opts   ClassifierOptions
	logger *slog.Logger
	group  singleflight.Group
}

// NewClassifier creates a Classifier. client may be nil to disable tier 2
// entirely; cache may be nil to disable result caching.
func NewClassifier(rules *Rules, client reasoner.Client, cache *Cache, opts ClassifierOptions, logger *slog.Logger) *Classifier {
	if rules == nil {
		panic("NewClassifier: rules must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReasonerTimeout <= 0 {
		opts.ReasonerTimeout = 15 * time.Second
	}
	return &Classifier{rules: rules, client: client, cache: cache, opts: opts, logger: logger}
}

// Classify turns a command transcript into an action request. contextText
// is recent conversation used to backfill omitted fields; semanticContext
// is optional retrieved history for ambiguous references. The result is
// never nil: commands neither tier can place come back as unknown.
func (c *Classifier) Classify(ctx context.Context, text, contextText, semanticContext string) *datatypes.ActionRequest {
	ctx, span := tracer.Start(ctx, "intent.Classify")
	defer span.End()

	if req := c.rules.Parse(ctx, text, contextText); req != nil {
		classifyTotal.WithLabelValues("tier1", req.Intent).Inc()
		span.SetAttributes(
			attribute.String("intent", req.Intent),
			attribute.String("tier", "tier1"),
		)
		return req
	}

	if c.client == nil {
		return unknownResult(text, true)
	}

	if cached, err := c.cache.Load(ctx, text); err != nil {
		c.logger.Warn("intent cache load failed", slog.Any("error", err))
	} else if cached != nil {
		classifyTotal.WithLabelValues("cache", cached.Intent).Inc()
		span.SetAttributes(attribute.String("tier", "cache"))
		return cached
	}

	req := c.escalate(ctx, text, contextText, semanticContext)
	classifyTotal.WithLabelValues("tier2", req.Intent).Inc()
	span.SetAttributes(
		attribute.String("intent", req.Intent),
		attribute.String("tier", "tier2"),
		attribute.Float64("confidence", req.Confidence),
	)
	if req.Intent == datatypes.IntentUnknown && req.Confidence == 0 {
		span.SetStatus(codes.Error, "reasoner degraded")
	}
	return req
}

// escalate runs the reasoner once per distinct phrase, no matter how many
// goroutines ask concurrently.
func (c *Classifier) escalate(ctx context.Context, text, contextText, semanticContext string) *datatypes.ActionRequest {
	key := strings.ToLower(strings.TrimSpace(text))
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.reason(ctx, text, contextText, semanticContext), nil
	})
	if err != nil {
		// Do never returns an error here, but degrade defensively.
		return unknownResult(text, true)
	}
	req := v.(*datatypes.ActionRequest)
	if req.Intent != datatypes.IntentUnknown {
		if err := c.cache.Save(ctx, text, req); err != nil {
			c.logger.Warn("intent cache save failed", slog.Any("error", err))
		}
	}
	return req
}

func (c *Classifier) reason(ctx context.Context, text, contextText, semanticContext string) *datatypes.ActionRequest {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReasonerTimeout)
	defer cancel()

	start := time.Now()
	raw, err := c.client.Complete(ctx, buildPrompt(text, contextText, semanticContext))
	reasonerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		classifyDegraded.Inc()
		c.logger.Warn("reasoner call failed, degrading to unknown",
			slog.String("backend", c.client.Name()),
			slog.Any("error", err),
		)
		return unknownResult(text, true)
	}

	req, err := parseReasonerResponse(raw, text, c.opts.HumanFloor)
	if err != nil {
		classifyDegraded.Inc()
		c.logger.Warn("unparseable reasoner response, degrading to unknown",
			slog.String("backend", c.client.Name()),
			slog.Any("error", err),
		)
		return unknownResult(text, true)
	}
	c.logger.Info("reasoner classified command",
		slog.String("intent", req.Intent),
		slog.Float64("confidence", req.Confidence),
		slog.Bool("human_required", req.HumanRequired),
	)
	return req
}

func buildPrompt(text, contextText, semanticContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Parse this voice command into a structured action.\nCommand: %q\nRecent context: %q\n", text, contextText)
	if semanticContext != "" {
		fmt.Fprintf(&sb, "\nRelevant conversation history:\n%s\n", semanticContext)
	}
	sb.WriteString(`
Respond with JSON only:
{"intent": "email|text|reminder|search|order|calendar|note|unknown", "params": {}, "confidence": 0.0-1.0, "human_required": false}

For params, include relevant fields:
- email: to, subject, body
- text: to, message
- reminder: task, when, when_seconds (if duration mentioned)
- search: query
- order: item, store
- calendar: event, with, when
- note: content`)
	return sb.String()
}

type reasonerResult struct {
	Intent        string         `json:"intent"`
	Params        map[string]any `json:"params"`
	Confidence    *float64       `json:"confidence"`
	HumanRequired bool           `json:"human_required"`
}

func parseReasonerResponse(raw, text string, humanFloor float64) (*datatypes.ActionRequest, error) {
	block := jsonBlock.FindString(raw)
	if block == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var parsed reasonerResult
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	intent := parsed.Intent
	if !knownIntents[intent] {
		intent = datatypes.IntentUnknown
	}
	confidence := 0.5
	if parsed.Confidence != nil {
		// Small models go off-script; confidence stays within [0, 1].
		confidence = min(max(*parsed.Confidence, 0), 1)
	}
	humanRequired := parsed.HumanRequired
	if intent == datatypes.IntentUnknown && confidence < humanFloor {
		humanRequired = true
	}
	params := parsed.Params
	if params == nil {
		params = map[string]any{}
	}

	return &datatypes.ActionRequest{
		ID:            uuid.NewString(),
		Intent:        intent,
		Params:        params,
		RawText:       text,
		Confidence:    confidence,
		Source:        datatypes.SourceTier2,
		HumanRequired: humanRequired,
	}, nil
}

func unknownResult(text string, humanRequired bool) *datatypes.ActionRequest {
	return &datatypes.ActionRequest{
		ID:            uuid.NewString(),
		Intent:        datatypes.IntentUnknown,
		Params:        map[string]any{"text": text},
		RawText:       text,
		Confidence:    0,
		Source:        datatypes.SourceTier2,
		HumanRequired: humanRequired,
	}
}
