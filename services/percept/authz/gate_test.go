// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

func testStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewBadgerStore(db, nil)
}

func segsFrom(speakers ...string) []datatypes.Segment {
	segs := make([]datatypes.Segment, 0, len(speakers))
	for _, s := range speakers {
		segs = append(segs, datatypes.Segment{Text: "send the report", SpeakerID: s})
	}
	return segs
}

func TestEmptyAllowlistAllowsEveryone(t *testing.T) {
	g := NewGate(nil, nil, nil)
	d := g.Check(context.Background(), segsFrom("stranger"), "send the report")
	require.True(t, d.Allowed)
	require.Equal(t, []string{"stranger"}, d.Speakers)
}

func TestAllowlistedSpeakerPasses(t *testing.T) {
	g := NewGate([]string{"spk-1"}, nil, nil)
	d := g.Check(context.Background(), segsFrom("spk-1"), "send the report")
	require.True(t, d.Allowed)
}

func TestPrimaryUserBypassesAllowlist(t *testing.T) {
	g := NewGate([]string{"spk-1"}, nil, nil)
	d := g.Check(context.Background(), []datatypes.Segment{
		{Text: "send the report", SpeakerID: "spk-9", IsPrimaryUser: true},
	}, "send the report")
	require.True(t, d.Allowed)
}

func TestUnknownSpeakerDeniedAndAudited(t *testing.T) {
	st := testStore(t)
	g := NewGate([]string{"spk-1"}, st, nil)

	d := g.Check(context.Background(), segsFrom("spk-2"), "send the report")
	require.False(t, d.Allowed)
	require.Equal(t, "unauthorized_speaker", d.Reason)
	require.Equal(t, []string{"spk-2"}, d.Denied)

	events, err := st.SecurityEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "spk-2", events[0].SpeakerID)
	require.Equal(t, "send the report", events[0].Snippet)
	require.Equal(t, "unauthorized_speaker", events[0].Reason)
}

func TestBatchWithAllowlistedSpeakerPassesDespiteOthers(t *testing.T) {
	st := testStore(t)
	g := NewGate([]string{"spk-1"}, st, nil)

	// Owner commanding in a room with an unknown guest: the batch passes
	// and no refusal is audited.
	d := g.Check(context.Background(), segsFrom("spk-2", "spk-1"), "send the report")
	require.True(t, d.Allowed)
	require.Empty(t, d.Denied)
	require.Equal(t, []string{"spk-2", "spk-1"}, d.Speakers)

	events, err := st.SecurityEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestBatchWithPrimaryUserPassesDespiteOthers(t *testing.T) {
	g := NewGate([]string{"spk-1"}, nil, nil)
	d := g.Check(context.Background(), []datatypes.Segment{
		{Text: "hey", SpeakerID: "spk-guest"},
		{Text: "send the report", SpeakerID: "spk-9", IsPrimaryUser: true},
	}, "send the report")
	require.True(t, d.Allowed)
}

func TestDeniedSpeakerAuditedOncePerCheck(t *testing.T) {
	st := testStore(t)
	g := NewGate([]string{"spk-1"}, st, nil)

	// Same refused speaker across several segments of one flush.
	d := g.Check(context.Background(), segsFrom("spk-2", "spk-2", "spk-2"), "send it")
	require.Equal(t, []string{"spk-2"}, d.Denied)

	events, err := st.SecurityEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
