// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetPercept/percept/services/percept/contacts"
	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

// fakeBook resolves a fixed name set without a store.
type fakeBook struct {
	emails map[string]string
	phones map[string]string
}

func (b *fakeBook) Lookup(_ context.Context, name, kind string) (string, bool) {
	var m map[string]string
	if kind == contacts.KindEmail {
		m = b.emails
	} else {
		m = b.phones
	}
	h, ok := m[name]
	return h, ok
}

func testBook() *fakeBook {
	return &fakeBook{
		emails: map[string]string{"sarah": "sarah@chenconsulting.com"},
		phones: map[string]string{"david": "+15551234567"},
	}
}

// mockReasoner is a scriptable tier-2 backend.
type mockReasoner struct {
	mu    sync.Mutex
	resp  string
	err   error
	delay time.Duration
	calls int
}

func (m *mockReasoner) Name() string { return "mock" }

func (m *mockReasoner) Complete(ctx context.Context, _ string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.resp, m.err
}

func (m *mockReasoner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// Tier 1
// =============================================================================

func TestRulesEmail(t *testing.T) {
	r := NewRules(testBook(), "")
	ctx := context.Background()

	req := r.Parse(ctx, "send an email to sarah about the quarterly report", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentEmail, req.Intent)
	assert.Equal(t, "sarah@chenconsulting.com", req.Params["to"])
	assert.Equal(t, "the quarterly report", req.Params["body"])
	assert.Equal(t, datatypes.SourceTier1, req.Source)
	assert.Equal(t, 1.0, req.Confidence)
}

func TestRulesEmailSpokenAddress(t *testing.T) {
	r := NewRules(testBook(), "")
	req := r.Parse(context.Background(), "email jane at example dot com saying lunch is on", "")
	require.NotNil(t, req)
	assert.Equal(t, "jane@example.com", req.Params["to"])
	assert.Equal(t, "lunch is on", req.Params["body"])
}

func TestRulesTextSplitsOnKnownContact(t *testing.T) {
	r := NewRules(testBook(), "")
	req := r.Parse(context.Background(), "text david the demo is working", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentText, req.Intent)
	assert.Equal(t, "+15551234567", req.Params["to"])
	assert.Equal(t, "the demo is working", req.Params["message"])
}

func TestRulesTellForm(t *testing.T) {
	r := NewRules(testBook(), "")
	req := r.Parse(context.Background(), "tell david to pick up the keys", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentText, req.Intent)
	assert.Equal(t, "+15551234567", req.Params["to"])
	assert.Equal(t, "pick up the keys", req.Params["message"])
}

func TestRulesReminderWithSpokenDuration(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "remind me in thirty minutes to call mom", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentReminder, req.Intent)
	assert.Equal(t, "call mom", req.Params["task"])
	assert.Equal(t, 1800, req.Params["when_seconds"])
}

func TestRulesReminderTrailingDuration(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "remind me to take the bread out in 2 hours", "")
	require.NotNil(t, req)
	assert.Equal(t, "take the bread out", req.Params["task"])
	assert.Equal(t, 7200, req.Params["when_seconds"])
}

func TestRulesSearch(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "look up the weather in anchorage", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentSearch, req.Intent)
	assert.Equal(t, "the weather in anchorage", req.Params["query"])
}

func TestRulesNoteBeatsOrderForLists(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "add that to my list: fix the gate latch", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentNote, req.Intent)
	assert.Equal(t, "fix the gate latch", req.Params["content"])
}

func TestRulesShoppingList(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "add oat milk to the shopping list", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentOrder, req.Intent)
	assert.Equal(t, "oat milk", req.Params["item"])
}

func TestRulesCalendarMeeting(t *testing.T) {
	r := NewRules(nil, "")
	req := r.Parse(context.Background(), "set up a meeting with sarah for tuesday", "")
	require.NotNil(t, req)
	assert.Equal(t, datatypes.IntentCalendar, req.Intent)
	assert.Equal(t, "meeting with sarah", req.Params["event"])
	assert.Equal(t, "sarah", req.Params["with"])
	assert.Equal(t, "tuesday", req.Params["when"])
}

func TestRulesNoMatch(t *testing.T) {
	r := NewRules(nil, "")
	assert.Nil(t, r.Parse(context.Background(), "the weather has been strange lately", ""))
	assert.Nil(t, r.Parse(context.Background(), "", ""))
}

// =============================================================================
// Tier 2
// =============================================================================

func defaultOpts() ClassifierOptions {
	return ClassifierOptions{ReasonerTimeout: time.Second, HumanFloor: 0.3}
}

func TestClassifierNeverEscalatesRuleMatches(t *testing.T) {
	mock := &mockReasoner{resp: `{"intent":"unknown"}`}
	c := NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req := c.Classify(context.Background(), "remind me in thirty minutes to call mom", "", "")
	assert.Equal(t, datatypes.IntentReminder, req.Intent)
	assert.Equal(t, 0, mock.callCount())
}

func TestClassifierEscalatesAndParsesWrappedJSON(t *testing.T) {
	mock := &mockReasoner{resp: "Sure! Here is the result:\n```json\n" +
		`{"intent":"reminder","params":{"task":"water the plants","when":"tomorrow"},"confidence":0.85,"human_required":false}` +
		"\n```"}
	c := NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req := c.Classify(context.Background(), "the plants are looking dry maybe do something tomorrow", "", "")
	assert.Equal(t, datatypes.IntentReminder, req.Intent)
	assert.Equal(t, "water the plants", req.Params["task"])
	assert.Equal(t, 0.85, req.Confidence)
	assert.Equal(t, datatypes.SourceTier2, req.Source)
	assert.False(t, req.HumanRequired)
}

func TestClassifierClampsOutOfRangeConfidence(t *testing.T) {
	mock := &mockReasoner{resp: `{"intent":"note","params":{"content":"x"},"confidence":1.7}`}
	c := NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req := c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Equal(t, datatypes.IntentNote, req.Intent)
	assert.Equal(t, 1.0, req.Confidence)

	mock = &mockReasoner{resp: `{"intent":"note","params":{"content":"x"},"confidence":-0.2}`}
	c = NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req = c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Equal(t, 0.0, req.Confidence)
}

func TestClassifierFlagsLowConfidenceUnknownForHuman(t *testing.T) {
	mock := &mockReasoner{resp: `{"intent":"unknown","params":{},"confidence":0.1}`}
	c := NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req := c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Equal(t, datatypes.IntentUnknown, req.Intent)
	assert.True(t, req.HumanRequired)
}

func TestClassifierDegradesOnReasonerFailure(t *testing.T) {
	mock := &mockReasoner{err: context.DeadlineExceeded}
	c := NewClassifier(NewRules(nil, ""), mock, nil, defaultOpts(), nil)

	req := c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Equal(t, datatypes.IntentUnknown, req.Intent)
	assert.True(t, req.HumanRequired)
	assert.Equal(t, 0.0, req.Confidence)
}

func TestClassifierTimesOutSlowReasoner(t *testing.T) {
	mock := &mockReasoner{resp: `{"intent":"note"}`, delay: 5 * time.Second}
	opts := defaultOpts()
	opts.ReasonerTimeout = 50 * time.Millisecond
	c := NewClassifier(NewRules(nil, ""), mock, nil, opts, nil)

	start := time.Now()
	req := c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, datatypes.IntentUnknown, req.Intent)
}

func TestClassifierCachesTier2Results(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	mock := &mockReasoner{resp: `{"intent":"note","params":{"content":"x"},"confidence":0.9}`}
	c := NewClassifier(NewRules(nil, ""), mock, NewCache(db, time.Minute, nil), defaultOpts(), nil)

	ctx := context.Background()
	first := c.Classify(ctx, "something only a model can place", "", "")
	second := c.Classify(ctx, "something only a model can place", "", "")

	assert.Equal(t, datatypes.IntentNote, first.Intent)
	assert.Equal(t, datatypes.IntentNote, second.Intent)
	assert.Equal(t, 1, mock.callCount(), "second call must come from cache")
}

func TestClassifierWithoutReasonerReturnsUnknown(t *testing.T) {
	c := NewClassifier(NewRules(nil, ""), nil, nil, defaultOpts(), nil)
	req := c.Classify(context.Background(), "mumble mumble something", "", "")
	assert.Equal(t, datatypes.IntentUnknown, req.Intent)
	assert.True(t, req.HumanRequired)
}

// =============================================================================
// Wake Prefix
// =============================================================================

func TestStripWakePrefix(t *testing.T) {
	ps := []string{"hey jarvis", "jarvis"}
	assert.Equal(t, "remind me to call mom",
		StripWakePrefix("hey jarvis, remind me to call mom", ps))
	assert.Equal(t, "remind me to call mom",
		StripWakePrefix("um hey jarvis remind me to call mom", ps))
	assert.Equal(t, "no wake phrase here",
		StripWakePrefix("  no wake phrase here  ", ps))
}
