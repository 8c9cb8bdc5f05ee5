// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package authz decides whether the speakers behind a flushed command are
// allowed to issue it, and keeps an audit trail of refusals.
package authz

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

var authzDenied = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "percept",
	Subsystem: "authz",
	Name:      "denied_total",
	Help:      "Commands refused by the authorization gate",
})

// Decision is the outcome of a gate check.
type Decision struct {
	// Allowed is true when at least one contributing speaker may command.
	Allowed bool

	// Reason is a short machine-readable cause when Allowed is false:
	// "unauthorized_speaker".
	Reason string

	// Speakers lists the distinct speaker IDs that contributed segments,
	// in first-appearance order.
	Speakers []string

	// Denied lists the speakers that failed the check. Populated only when
	// the whole batch is refused.
	Denied []string
}

// Gate enforces the speaker allowlist. A batch passes when the allowlist
// is empty, when any segment is flagged as the primary user, or when any
// contributing speaker appears on the list: the owner commanding in a room
// with other voices must not be silenced by the bystanders. A refused
// batch is written to the security log once per offending speaker.
//
// Thread Safety: Safe for concurrent use; the allowlist is fixed at
// construction.
type Gate struct {
	allowed map[string]struct{}
	store   storage.Store
	logger  *slog.Logger
}

// NewGate creates a Gate. allowedSpeakers may be empty, which disables the
// allowlist entirely. store may be nil to skip audit logging (tests).
func NewGate(allowedSpeakers []string, store storage.Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedSpeakers))
	for _, s := range allowedSpeakers {
		s = strings.TrimSpace(s)
		if s != "" {
			allowed[s] = struct{}{}
		}
	}
	return &Gate{allowed: allowed, store: store, logger: logger}
}

// Check evaluates every speaker that contributed to segs. snippet is a
// short excerpt of the command text recorded with any refusal; it should
// already be truncated by the caller.
func (g *Gate) Check(ctx context.Context, segs []datatypes.Segment, snippet string) Decision {
	var d Decision

	seen := make(map[string]bool)
	for _, s := range segs {
		id := s.SpeakerID
		if id == "" {
			id = "unknown"
		}
		if !seen[id] {
			seen[id] = true
			d.Speakers = append(d.Speakers, id)
		}
		if g.permitted(id, s.IsPrimaryUser) {
			d.Allowed = true
		}
	}

	if d.Allowed {
		return d
	}

	d.Reason = "unauthorized_speaker"
	authzDenied.Inc()
	for _, id := range d.Speakers {
		d.Denied = append(d.Denied, id)
		g.audit(ctx, id, snippet)
	}
	return d
}

func (g *Gate) permitted(speakerID string, isPrimary bool) bool {
	if len(g.allowed) == 0 {
		return true
	}
	if isPrimary {
		return true
	}
	_, ok := g.allowed[speakerID]
	return ok
}

func (g *Gate) audit(ctx context.Context, speakerID, snippet string) {
	g.logger.Warn("command refused",
		slog.String("speaker", speakerID),
		slog.String("snippet", snippet),
	)
	if g.store == nil {
		return
	}
	err := g.store.LogSecurityEvent(ctx, storage.SecurityEvent{
		SpeakerID: speakerID,
		Snippet:   snippet,
		Reason:    "unauthorized_speaker",
		At:        time.Now(),
	})
	if err != nil {
		g.logger.Error("failed to record security event", slog.Any("error", err))
	}
}
