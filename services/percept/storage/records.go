// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "time"

// Speaker is a known voice in the diarization registry. The ID is the
// diarization label (e.g. "SPEAKER_00"); Name is the human name once one
// has been learned ("that was David").
type Speaker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsOwner   bool      `json:"is_owner,omitempty"`
	Words     int       `json:"words"`
	Segments  int       `json:"segments"`
	LastHeard time.Time `json:"last_heard"`
}

// Contact is an address-book entry used for recipient resolution.
type Contact struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Email   string   `json:"email,omitempty"`
	Phone   string   `json:"phone,omitempty"`
}

// Conversation is a finished (or in-progress) conversation window record.
type Conversation struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	SegmentCount    int       `json:"segment_count"`
	WordCount       int       `json:"word_count"`
	Speakers        []string  `json:"speakers"`
	Transcript      string    `json:"transcript,omitempty"`
	Summary         string    `json:"summary,omitempty"`
}

// Utterance is a single segment persisted under its conversation.
type Utterance struct {
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	SpeakerID      string    `json:"speaker_id"`
	Text           string    `json:"text"`
	At             time.Time `json:"at"`
}

// Mention records that an entity surfaced in a conversation. The mention
// log is what the contextual resolution strategy walks before following
// the relationship graph.
type Mention struct {
	ConversationID string    `json:"conversation_id"`
	EntityName     string    `json:"entity_name"`
	EntityType     string    `json:"entity_type"`
	At             time.Time `json:"at"`
}

// Relationship is a weighted edge in the entity graph. Weight counts how
// many times the edge has been observed.
type Relationship struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Type      string    `json:"type"`
	Weight    int       `json:"weight"`
	Evidence  string    `json:"evidence,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relationship edge types the contextual resolver follows.
const (
	RelClientOf      = "client_of"
	RelWorksOn       = "works_on"
	RelMentionedWith = "mentioned_with"
)

// SecurityEvent is an audit record for denied or blocked input.
type SecurityEvent struct {
	SpeakerID string    `json:"speaker_id"`
	Snippet   string    `json:"snippet"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
