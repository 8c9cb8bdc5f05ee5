// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db, nil)
}

func TestSpeakerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSpeaker(ctx, Speaker{ID: "SPEAKER_00", Name: "David", IsOwner: true}))
	require.NoError(t, s.BumpSpeaker(ctx, "SPEAKER_00", 5, 1))
	require.NoError(t, s.BumpSpeaker(ctx, "SPEAKER_01", 3, 1))

	speakers, err := s.Speakers(ctx)
	require.NoError(t, err)
	require.Len(t, speakers, 2)

	byID := map[string]Speaker{}
	for _, sp := range speakers {
		byID[sp.ID] = sp
	}
	assert.Equal(t, "David", byID["SPEAKER_00"].Name)
	assert.Equal(t, 5, byID["SPEAKER_00"].Words)
	assert.Equal(t, 1, byID["SPEAKER_01"].Segments)
	assert.False(t, byID["SPEAKER_01"].LastHeard.IsZero())
}

func TestNameSpeakerKeepsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BumpSpeaker(ctx, "SPEAKER_02", 7, 2))

	sp, err := s.NameSpeaker(ctx, "SPEAKER_02", "Maya", false)
	require.NoError(t, err)
	assert.Equal(t, "Maya", sp.Name)
	assert.Equal(t, 7, sp.Words)
	assert.Equal(t, 2, sp.Segments)

	// Naming an unheard label creates a bare record.
	sp, err = s.NameSpeaker(ctx, "SPEAKER_03", "Guest", false)
	require.NoError(t, err)
	assert.Equal(t, "Guest", sp.Name)
	assert.Equal(t, 0, sp.Words)

	_, err = s.NameSpeaker(ctx, "", "nobody", false)
	require.Error(t, err)
}

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveContact(ctx, Contact{Name: "Sarah Chen", Aliases: []string{"sarah"}, Email: "sarah@example.com"}))
	contacts, err := s.Contacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.NotEmpty(t, contacts[0].ID)
	assert.Equal(t, "sarah@example.com", contacts[0].Email)
}

func TestUtterancesKeepAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendUtterance(ctx, Utterance{
			ConversationID: "c1", Seq: i, SpeakerID: "SPEAKER_00", Text: text, At: time.Now(),
		}))
	}
	// A different conversation must not bleed in.
	require.NoError(t, s.AppendUtterance(ctx, Utterance{ConversationID: "c2", Seq: 0, Text: "other"}))

	utts, err := s.Utterances(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, utts, 3)
	assert.Equal(t, "first", utts[0].Text)
	assert.Equal(t, "third", utts[2].Text)
}

func TestRelationshipWeightBump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BumpRelationship(ctx, "Sarah Chen", "Acme Corp", RelClientOf, "conv:c1"))
	require.NoError(t, s.BumpRelationship(ctx, "Sarah Chen", "Acme Corp", RelClientOf, "conv:c2"))

	rels, err := s.Relationships(ctx, "sarah chen")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 2, rels[0].Weight)
	assert.Equal(t, "conv:c2", rels[0].Evidence)

	// Lookup works from either end of the edge.
	rels, err = s.Relationships(ctx, "Acme Corp")
	require.NoError(t, err)
	require.Len(t, rels, 1)
}

func TestMentionsDedupeByEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMention(ctx, Mention{ConversationID: "c1", EntityName: "Sarah", EntityType: datatypes.EntityPerson}))
	require.NoError(t, s.RecordMention(ctx, Mention{ConversationID: "c1", EntityName: "sarah", EntityType: datatypes.EntityPerson}))
	require.NoError(t, s.RecordMention(ctx, Mention{ConversationID: "c1", EntityName: "Acme Corp", EntityType: datatypes.EntityOrg}))

	mentions, err := s.Mentions(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
}

func TestSecurityEventsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogSecurityEvent(ctx, SecurityEvent{
			SpeakerID: "SPEAKER_01",
			Snippet:   "denied text",
			Reason:    "unauthorized_speaker",
			At:        time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := s.SecurityEvents(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSaveAction(t *testing.T) {
	s := newTestStore(t)
	req := &datatypes.ActionRequest{
		ID:     "a1",
		Intent: datatypes.IntentReminder,
		Params: map[string]any{"task": "call mom", "when_seconds": 1800},
		Source: datatypes.SourceTier1,
	}
	require.NoError(t, s.SaveAction(context.Background(), req, "pending"))
	assert.Error(t, s.SaveAction(context.Background(), &datatypes.ActionRequest{}, "pending"))
}
