// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// Summarizer closes out a conversation once it has gone quiet. Called from
// the tracker's own goroutine with a background context.
type Summarizer interface {
	Summarize(ctx context.Context, key string, turns []Turn)
}

// Turn is one speaker utterance inside a conversation window.
type Turn struct {
	SpeakerID string
	Text      string
	At        time.Time
}

// RecentEntity is one entry of the rolling entity window used for pronoun
// and recency-based resolution.
type RecentEntity struct {
	Name string
	Type string
	At   time.Time
}

type conversation struct {
	turns    []Turn
	recent   []RecentEntity
	epoch    uint64
	closing  bool
	lastSeen time.Time
}

// ConversationTracker groups flushed speech into conversation windows. A
// window stays open while turns keep arriving and is handed to the
// Summarizer after EndTimeout of quiet. It also maintains a bounded window
// of recently mentioned entities per key, newest first; it is dropped with
// the rest of the conversation state when the conversation closes.
//
// Thread Safety: Safe for concurrent use.
type ConversationTracker struct {
	endTimeout   time.Duration
	entityWindow int
	summarizer   Summarizer
	logger       *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewConversationTracker creates a ConversationTracker. summarizer may be
// nil, in which case windows are discarded silently when they close.
func NewConversationTracker(endTimeout time.Duration, entityWindow int, summarizer Summarizer, logger *slog.Logger) *ConversationTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if entityWindow <= 0 {
		entityWindow = 20
	}
	return &ConversationTracker{
		endTimeout:   endTimeout,
		entityWindow: entityWindow,
		summarizer:   summarizer,
		logger:       logger,
		convs:        make(map[string]*conversation),
	}
}

// Observe records one turn and the entities extracted from it, opening a
// conversation window for key if none is active.
func (t *ConversationTracker) Observe(key, speakerID, text string, entities []datatypes.ExtractedEntity) {
	now := time.Now()

	t.mu.Lock()
	c := t.convs[key]
	if c == nil || c.closing {
		c = &conversation{}
		t.convs[key] = c
	}
	c.turns = append(c.turns, Turn{SpeakerID: speakerID, Text: text, At: now})
	c.lastSeen = now
	for _, e := range entities {
		// Newest first; cap the window by dropping the oldest tail.
		c.recent = append([]RecentEntity{{Name: e.Name, Type: e.Type, At: now}}, c.recent...)
	}
	if len(c.recent) > t.entityWindow {
		c.recent = c.recent[:t.entityWindow]
	}
	c.epoch++
	epoch := c.epoch
	t.mu.Unlock()

	go t.awaitEnd(key, epoch)
}

func (t *ConversationTracker) awaitEnd(key string, epoch uint64) {
	time.Sleep(t.endTimeout)

	t.mu.Lock()
	c := t.convs[key]
	if c == nil || c.closing || c.epoch != epoch {
		t.mu.Unlock()
		return
	}
	c.closing = true
	delete(t.convs, key)
	turns := c.turns
	t.mu.Unlock()

	t.logger.Info("conversation ended",
		slog.String("session", key),
		slog.Int("turns", len(turns)),
	)
	if t.summarizer != nil && len(turns) > 0 {
		t.summarizer.Summarize(context.Background(), key, turns)
	}
}

// RecentEntities returns the rolling entity window for key, newest first.
// Empty when no conversation is active.
func (t *ConversationTracker) RecentEntities(key string) []RecentEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.convs[key]
	if c == nil {
		return nil
	}
	out := make([]RecentEntity, len(c.recent))
	copy(out, c.recent)
	return out
}

// Active reports whether a conversation window is currently open for key.
func (t *ConversationTracker) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.convs[key]
	return ok
}
