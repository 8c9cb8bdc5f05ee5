// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and pipeline types shared across the
// Percept core: transcript segments, classified action requests, and
// extracted entities with their resolution state.
package datatypes

import "time"

// =============================================================================
// Segments
// =============================================================================

// Segment is a single timestamped, speaker-tagged piece of transcribed speech.
// Immutable once created; a segment fans out into both the active command
// session and the longer-lived conversation window.
type Segment struct {
	// Text is the transcribed speech.
	Text string `json:"text"`

	// Start and End are offsets in seconds relative to the audio stream.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// SpeakerID is the diarization label (e.g. "SPEAKER_00") or a resolved
	// speaker identifier.
	SpeakerID string `json:"speaker"`

	// IsPrimaryUser is set by the upstream device when the segment was spoken
	// by the device owner. Used by the authorization gate as an owner bypass.
	IsPrimaryUser bool `json:"is_user"`

	// ArrivedAt is the ingest wall-clock time, not the audio timestamp.
	ArrivedAt time.Time `json:"arrived_at"`
}

// =============================================================================
// Action Requests
// =============================================================================

// Intent source labels. Tier 1 is the deterministic rule set; tier 2 is the
// external reasoner.
const (
	SourceTier1 = "tier1"
	SourceTier2 = "tier2"
)

// Well-known intents emitted by the classifier. Tier 2 may emit others;
// IntentUnknown is the degraded passthrough when neither tier can classify.
const (
	IntentEmail    = "email"
	IntentText     = "text"
	IntentReminder = "reminder"
	IntentSearch   = "search"
	IntentNote     = "note"
	IntentOrder    = "order"
	IntentCalendar = "calendar"
	IntentUnknown  = "unknown"
)

// ActionRequest is a well-formed, classified command ready to hand to the
// execution collaborator.
type ActionRequest struct {
	// ID uniquely identifies this request for auditing and dispatch dedup.
	ID string `json:"id"`

	// Intent is the classified action category.
	Intent string `json:"intent"`

	// Params are intent-specific slots (to, message, task, when_seconds, ...).
	Params map[string]any `json:"params"`

	// RawText is the command text the classification was derived from.
	RawText string `json:"raw_text"`

	// Confidence is in [0,1]. Tier-1 matches are always 1.0.
	Confidence float64 `json:"confidence"`

	// Source records which tier produced the classification.
	Source string `json:"source"`

	// HumanRequired marks requests that must be confirmed by a person before
	// execution. Forced true when tier-2 confidence falls below the floor.
	HumanRequired bool `json:"human_required"`
}

// =============================================================================
// Entities
// =============================================================================

// Entity types produced by the extractor.
const (
	EntityPerson  = "person"
	EntityOrg     = "org"
	EntityProject = "project"
	EntityProduct = "product"
	EntityDate    = "date"
	EntityEmail   = "email"
	EntityPhone   = "phone"
	EntityURL     = "url"
	EntityMention = "mention"
	EntityUnknown = "unknown"
)

// Resolution buckets. Applied uniformly from confidence: >= 0.8 auto,
// >= 0.5 soft, below 0.5 needs_human; no match at all stays unresolved.
const (
	ResolutionAuto       = "auto"
	ResolutionSoft       = "soft"
	ResolutionNeedsHuman = "needs_human"
	ResolutionUnresolved = "unresolved"
)

// ExtractedEntity is a surface form pulled out of transcript text, optionally
// resolved against known speakers, contacts, and the relationship graph.
type ExtractedEntity struct {
	// Type is one of the Entity* constants.
	Type string `json:"type"`

	// Name is the surface form as it appeared in the text.
	Name string `json:"name"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`

	// Context is a snippet of surrounding text for disambiguation.
	Context string `json:"context,omitempty"`

	// ResolvedID and ResolvedName are set when a resolution strategy matched.
	ResolvedID   string `json:"resolved_id,omitempty"`
	ResolvedName string `json:"resolved_name,omitempty"`

	// Resolution is one of the Resolution* constants. Set once per resolution
	// attempt; a later strategy never downgrades an earlier, stronger match.
	Resolution string `json:"resolution"`
}

// ResolutionFor maps a confidence value to its bucket.
func ResolutionFor(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return ResolutionAuto
	case confidence >= 0.5:
		return ResolutionSoft
	default:
		return ResolutionNeedsHuman
	}
}
