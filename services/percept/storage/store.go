// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// Key prefixes. Versioned so a future format change does not collide with
// old records; see the intent package for the cache prefix sharing this DB.
const (
	speakerPrefix = "speaker/v1/"
	contactPrefix = "contact/v1/"
	convPrefix    = "conv/v1/"
	uttPrefix     = "utt/v1/"
	mentionPrefix = "mention/v1/"
	relPrefix     = "rel/v1/"
	secPrefix     = "sec/v1/"
	actionPrefix  = "action/v1/"
)

// Store is the persistence collaborator interface consumed by the
// pipeline, the resolver, the contact book, and the authorization gate.
//
// All methods are best-effort from the pipeline's point of view: a failed
// write is logged by the caller and never blocks segment processing.
type Store interface {
	// UpsertSpeaker inserts or replaces a speaker record.
	UpsertSpeaker(ctx context.Context, s Speaker) error

	// BumpSpeaker increments a speaker's word/segment counters, creating
	// the record if needed, and refreshes LastHeard.
	BumpSpeaker(ctx context.Context, id string, wordsDelta, segmentsDelta int) error

	// NameSpeaker attaches a human name and owner flag to a diarization
	// label, preserving the accumulated counters.
	NameSpeaker(ctx context.Context, id, name string, isOwner bool) (Speaker, error)

	// Speakers returns all known speakers.
	Speakers(ctx context.Context) ([]Speaker, error)

	// SaveContact inserts or replaces an address-book entry.
	SaveContact(ctx context.Context, c Contact) error

	// Contacts returns the full address book.
	Contacts(ctx context.Context) ([]Contact, error)

	// SaveConversation inserts or replaces a conversation record.
	SaveConversation(ctx context.Context, c Conversation) error

	// AppendUtterance appends one utterance under its conversation.
	AppendUtterance(ctx context.Context, u Utterance) error

	// Utterances returns a conversation's utterances in append order.
	Utterances(ctx context.Context, conversationID string) ([]Utterance, error)

	// RecordMention appends an entity mention for a conversation.
	RecordMention(ctx context.Context, m Mention) error

	// Mentions returns the distinct entities mentioned in a conversation.
	Mentions(ctx context.Context, conversationID string) ([]Mention, error)

	// BumpRelationship upserts the edge (source, target, type), adding one
	// to its weight and replacing its evidence pointer.
	BumpRelationship(ctx context.Context, source, target, relType, evidence string) error

	// Relationships returns all edges touching the given entity name.
	Relationships(ctx context.Context, entity string) ([]Relationship, error)

	// LogSecurityEvent appends an audit record.
	LogSecurityEvent(ctx context.Context, ev SecurityEvent) error

	// SecurityEvents returns up to limit most recent audit records.
	SecurityEvents(ctx context.Context, limit int) ([]SecurityEvent, error)

	// SaveAction persists an emitted ActionRequest with its dispatch status.
	SaveAction(ctx context.Context, req *datatypes.ActionRequest, status string) error
}

// BadgerStore implements Store on the shared embedded DB.
//
// Thread Safety: Safe for concurrent use; Badger transactions are
// per-goroutine and read-modify-write methods retry on conflict.
type BadgerStore struct {
	db     *DB
	logger *slog.Logger
}

// NewBadgerStore wraps the shared DB. The caller owns the DB lifecycle.
func NewBadgerStore(db *DB, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

// =============================================================================
// Speakers
// =============================================================================

func (s *BadgerStore) UpsertSpeaker(ctx context.Context, sp Speaker) error {
	if sp.ID == "" {
		return fmt.Errorf("storage: speaker id is empty")
	}
	return s.putJSON(ctx, speakerPrefix+sp.ID, sp)
}

func (s *BadgerStore) BumpSpeaker(ctx context.Context, id string, wordsDelta, segmentsDelta int) error {
	if id == "" {
		return fmt.Errorf("storage: speaker id is empty")
	}
	key := []byte(speakerPrefix + id)
	return s.withRetry(ctx, func(txn *dgbadger.Txn) error {
		sp := Speaker{ID: id}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, dgbadger.ErrKeyNotFound):
			// First time hearing this speaker.
		case err != nil:
			return fmt.Errorf("get speaker: %w", err)
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy speaker: %w", err)
			}
			if err := json.Unmarshal(raw, &sp); err != nil {
				return fmt.Errorf("decode speaker: %w", err)
			}
		}
		sp.Words += wordsDelta
		sp.Segments += segmentsDelta
		sp.LastHeard = time.Now()
		raw, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("encode speaker: %w", err)
		}
		return txn.Set(key, raw)
	})
}

func (s *BadgerStore) NameSpeaker(ctx context.Context, id, name string, isOwner bool) (Speaker, error) {
	if id == "" {
		return Speaker{}, fmt.Errorf("storage: speaker id is empty")
	}
	key := []byte(speakerPrefix + id)
	var out Speaker
	err := s.withRetry(ctx, func(txn *dgbadger.Txn) error {
		sp := Speaker{ID: id}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, dgbadger.ErrKeyNotFound):
			// Naming a voice we have not counted yet is fine.
		case err != nil:
			return fmt.Errorf("get speaker: %w", err)
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy speaker: %w", err)
			}
			if err := json.Unmarshal(raw, &sp); err != nil {
				return fmt.Errorf("decode speaker: %w", err)
			}
		}
		sp.Name = name
		sp.IsOwner = isOwner
		raw, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("encode speaker: %w", err)
		}
		out = sp
		return txn.Set(key, raw)
	})
	return out, err
}

func (s *BadgerStore) Speakers(ctx context.Context) ([]Speaker, error) {
	var out []Speaker
	err := s.scanJSON(ctx, speakerPrefix, func(raw []byte) error {
		var sp Speaker
		if err := json.Unmarshal(raw, &sp); err != nil {
			return err
		}
		out = append(out, sp)
		return nil
	})
	return out, err
}

// =============================================================================
// Contacts
// =============================================================================

func (s *BadgerStore) SaveContact(ctx context.Context, c Contact) error {
	if c.Name == "" {
		return fmt.Errorf("storage: contact name is empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return s.putJSON(ctx, contactPrefix+c.ID, c)
}

func (s *BadgerStore) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := s.scanJSON(ctx, contactPrefix, func(raw []byte) error {
		var c Contact
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// =============================================================================
// Conversations & Utterances
// =============================================================================

func (s *BadgerStore) SaveConversation(ctx context.Context, c Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("storage: conversation id is empty")
	}
	return s.putJSON(ctx, convPrefix+c.ID, c)
}

func (s *BadgerStore) AppendUtterance(ctx context.Context, u Utterance) error {
	if u.ConversationID == "" {
		return fmt.Errorf("storage: utterance conversation id is empty")
	}
	key := fmt.Sprintf("%s%s/%010d", uttPrefix, u.ConversationID, u.Seq)
	return s.putJSON(ctx, key, u)
}

func (s *BadgerStore) Utterances(ctx context.Context, conversationID string) ([]Utterance, error) {
	var out []Utterance
	err := s.scanJSON(ctx, uttPrefix+conversationID+"/", func(raw []byte) error {
		var u Utterance
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// =============================================================================
// Mentions & Relationships
// =============================================================================

func (s *BadgerStore) RecordMention(ctx context.Context, m Mention) error {
	if m.ConversationID == "" || m.EntityName == "" {
		return fmt.Errorf("storage: mention requires conversation id and entity name")
	}
	// Keyed by entity name: one record per distinct entity per conversation,
	// refreshed on re-mention.
	key := mentionPrefix + m.ConversationID + "/" + strings.ToLower(m.EntityName)
	return s.putJSON(ctx, key, m)
}

func (s *BadgerStore) Mentions(ctx context.Context, conversationID string) ([]Mention, error) {
	var out []Mention
	err := s.scanJSON(ctx, mentionPrefix+conversationID+"/", func(raw []byte) error {
		var m Mention
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *BadgerStore) BumpRelationship(ctx context.Context, source, target, relType, evidence string) error {
	if source == "" || target == "" || relType == "" {
		return fmt.Errorf("storage: relationship requires source, target, and type")
	}
	key := []byte(relPrefix + strings.ToLower(source) + "|" + strings.ToLower(target) + "|" + relType)
	return s.withRetry(ctx, func(txn *dgbadger.Txn) error {
		rel := Relationship{Source: source, Target: target, Type: relType}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, dgbadger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get relationship: %w", err)
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy relationship: %w", err)
			}
			if err := json.Unmarshal(raw, &rel); err != nil {
				return fmt.Errorf("decode relationship: %w", err)
			}
		}
		rel.Weight++
		rel.Evidence = evidence
		rel.UpdatedAt = time.Now()
		raw, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("encode relationship: %w", err)
		}
		return txn.Set(key, raw)
	})
}

func (s *BadgerStore) Relationships(ctx context.Context, entity string) ([]Relationship, error) {
	needle := strings.ToLower(entity)
	var out []Relationship
	err := s.scanJSON(ctx, relPrefix, func(raw []byte) error {
		var rel Relationship
		if err := json.Unmarshal(raw, &rel); err != nil {
			return err
		}
		if strings.ToLower(rel.Source) == needle || strings.ToLower(rel.Target) == needle {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

// =============================================================================
// Security Events & Actions
// =============================================================================

func (s *BadgerStore) LogSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	key := fmt.Sprintf("%s%020d-%s", secPrefix, ev.At.UnixNano(), uuid.New().String()[:8])
	return s.putJSON(ctx, key, ev)
}

func (s *BadgerStore) SecurityEvents(ctx context.Context, limit int) ([]SecurityEvent, error) {
	var out []SecurityEvent
	err := s.scanJSON(ctx, secPrefix, func(raw []byte) error {
		var ev SecurityEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BadgerStore) SaveAction(ctx context.Context, req *datatypes.ActionRequest, status string) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("storage: action request must have an id")
	}
	record := struct {
		datatypes.ActionRequest
		Status string    `json:"status"`
		At     time.Time `json:"at"`
	}{*req, status, time.Now()}
	return s.putJSON(ctx, actionPrefix+req.ID, record)
}

// =============================================================================
// Helpers
// =============================================================================

// withRetry runs a read-modify-write transaction, retrying once on
// Badger's optimistic-conflict error.
func (s *BadgerStore) withRetry(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	err := s.db.WithTxn(ctx, fn)
	if errors.Is(err, dgbadger.ErrConflict) {
		err = s.db.WithTxn(ctx, fn)
	}
	return err
}

func (s *BadgerStore) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// scanJSON iterates all values under prefix in key order.
func (s *BadgerStore) scanJSON(ctx context.Context, prefix string, fn func(raw []byte) error) error {
	p := []byte(prefix)
	return s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy %s: %w", it.Item().Key(), err)
			}
			if err := fn(raw); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}
