// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/fuzzy"
	"github.com/GetPercept/percept/services/percept/storage"
	"github.com/GetPercept/percept/services/percept/vector"
)

var resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "percept",
	Subsystem: "entity",
	Name:      "resolve_total",
	Help:      "Resolutions by winning strategy (none = unresolved)",
}, []string{"strategy"})

// Strategy confidences. A strategy stamps its fixed confidence (or score)
// on the entity it resolves; buckets then follow uniformly.
const (
	exactConfidence      = 0.9
	clientOfConfidence   = 0.7
	worksOnConfidence    = 0.65
	recencyConfidence    = 0.65
	semanticConfidence   = 0.55
	defaultFuzzyMinScore = 0.85
)

// pronouns the recency strategy is allowed to resolve.
var pronouns = map[string]bool{
	"he": true, "she": true, "they": true, "them": true,
	"him": true, "her": true, "it": true,
	"the client": true, "the team": true,
}

// RecentMention is one entry of the caller-maintained recency window,
// newest first.
type RecentMention struct {
	Name string
	Type string
}

// Scope carries the conversational context a resolution runs inside.
type Scope struct {
	// ConversationID enables the contextual (relationship graph) strategy.
	ConversationID string

	// Recent is the rolling window of recently mentioned entities, newest
	// first, used for pronoun resolution.
	Recent []RecentMention
}

type candidate struct {
	id         string
	name       string
	confidence float64
	strategy   string
}

// strategy is one resolution attempt. Returns nil when it has no answer;
// errors are logged and treated as no-answer so one broken backend never
// blocks the chain.
type strategy interface {
	name() string
	resolve(ctx context.Context, entityName string, sc Scope) (*candidate, error)
}

// Resolver resolves extracted entities against known speakers, contacts,
// the relationship graph, the recency window, and finally the semantic
// index. Strategies run in order of decreasing precision; the first match
// wins.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	strategies []strategy
	logger     *slog.Logger
}

// NewResolver builds the strategy chain. store may be nil (tests), which
// disables the exact, fuzzy, and contextual strategies; searcher may be
// nil, which disables the semantic fallback. fuzzyThreshold 0 means the
// default of 0.85.
func NewResolver(store storage.Store, searcher vector.Searcher, fuzzyThreshold float64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = defaultFuzzyMinScore
	}
	var chain []strategy
	if store != nil {
		chain = append(chain,
			&exactStrategy{store: store},
			&fuzzyStrategy{store: store, threshold: fuzzyThreshold},
			&contextualStrategy{store: store},
		)
	}
	chain = append(chain, &recencyStrategy{})
	if searcher != nil {
		chain = append(chain, &semanticStrategy{searcher: searcher})
	}
	return &Resolver{strategies: chain, logger: logger}
}

// Resolve runs the chain for one entity and stamps the outcome: resolved
// ID/name, the winning strategy's confidence, and the bucket that
// confidence falls in. Entities nothing matches keep their extraction
// confidence; below 0.5 they are flagged needs_human, otherwise they stay
// unresolved.
func (r *Resolver) Resolve(ctx context.Context, e datatypes.ExtractedEntity, sc Scope) datatypes.ExtractedEntity {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return e
	}

	for _, s := range r.strategies {
		c, err := s.resolve(ctx, name, sc)
		if err != nil {
			r.logger.Warn("resolution strategy failed",
				slog.String("strategy", s.name()),
				slog.Any("error", err),
			)
			continue
		}
		if c == nil {
			continue
		}
		resolveTotal.WithLabelValues(c.strategy).Inc()
		e.ResolvedID = c.id
		e.ResolvedName = c.name
		e.Confidence = c.confidence
		e.Resolution = datatypes.ResolutionFor(c.confidence)
		return e
	}

	resolveTotal.WithLabelValues("none").Inc()
	if e.Confidence < 0.5 {
		e.Resolution = datatypes.ResolutionNeedsHuman
	} else {
		e.Resolution = datatypes.ResolutionUnresolved
	}
	return e
}

// ResolveAll resolves a batch in order, feeding each resolved person back
// into the recency window so later pronouns can pick it up.
func (r *Resolver) ResolveAll(ctx context.Context, entities []datatypes.ExtractedEntity, sc Scope) []datatypes.ExtractedEntity {
	out := make([]datatypes.ExtractedEntity, 0, len(entities))
	for _, e := range entities {
		resolved := r.Resolve(ctx, e, sc)
		out = append(out, resolved)
		if resolved.Type == datatypes.EntityPerson && resolved.ResolvedName != "" {
			sc.Recent = append([]RecentMention{{Name: resolved.ResolvedName, Type: resolved.Type}}, sc.Recent...)
		}
	}
	return out
}

// =============================================================================
// Strategies
// =============================================================================

// exactStrategy matches name case-insensitively against known speakers
// and contacts.
type exactStrategy struct {
	store storage.Store
}

func (s *exactStrategy) name() string { return "exact" }

func (s *exactStrategy) resolve(ctx context.Context, name string, _ Scope) (*candidate, error) {
	lower := strings.ToLower(name)

	speakers, err := s.store.Speakers(ctx)
	if err != nil {
		return nil, err
	}
	for _, sp := range speakers {
		if sp.Name != "" && strings.ToLower(sp.Name) == lower {
			return &candidate{id: sp.ID, name: sp.Name, confidence: exactConfidence, strategy: s.name()}, nil
		}
	}

	contacts, err := s.store.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if strings.ToLower(c.Name) == lower {
			return &candidate{id: c.ID, name: c.Name, confidence: exactConfidence, strategy: s.name()}, nil
		}
	}
	return nil, nil
}

// fuzzyStrategy takes the best similarity across speakers and contacts
// above the threshold; the similarity score becomes the confidence.
type fuzzyStrategy struct {
	store     storage.Store
	threshold float64
}

func (s *fuzzyStrategy) name() string { return "fuzzy" }

func (s *fuzzyStrategy) resolve(ctx context.Context, name string, _ Scope) (*candidate, error) {
	var best *candidate
	consider := func(id, candName string) {
		if candName == "" {
			return
		}
		score := fuzzy.RatioFold(name, candName)
		if score < s.threshold {
			return
		}
		if best == nil || score > best.confidence {
			best = &candidate{id: id, name: candName, confidence: score, strategy: s.name()}
		}
	}

	speakers, err := s.store.Speakers(ctx)
	if err != nil {
		return nil, err
	}
	for _, sp := range speakers {
		consider(sp.ID, sp.Name)
	}
	contacts, err := s.store.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		consider(c.ID, c.Name)
	}
	return best, nil
}

// contextualStrategy follows the relationship graph from entities already
// mentioned in this conversation: "the client" walks client_of edges,
// "the team" walks works_on edges.
type contextualStrategy struct {
	store storage.Store
}

func (s *contextualStrategy) name() string { return "contextual" }

func (s *contextualStrategy) resolve(ctx context.Context, name string, sc Scope) (*candidate, error) {
	if sc.ConversationID == "" {
		return nil, nil
	}
	lower := strings.ToLower(name)
	if lower != "the client" && lower != "the team" {
		return nil, nil
	}

	mentions, err := s.store.Mentions(ctx, sc.ConversationID)
	if err != nil {
		return nil, err
	}
	for _, m := range mentions {
		rels, err := s.store.Relationships(ctx, m.EntityName)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			target := rel.Target
			if !strings.EqualFold(rel.Source, m.EntityName) {
				target = rel.Source
			}
			if lower == "the client" && rel.Type == storage.RelClientOf {
				return &candidate{id: target, name: target, confidence: clientOfConfidence, strategy: s.name()}, nil
			}
			if lower == "the team" && rel.Type == storage.RelWorksOn {
				return &candidate{id: target, name: target, confidence: worksOnConfidence, strategy: s.name()}, nil
			}
		}
	}
	return nil, nil
}

// recencyStrategy resolves pronouns to the most recently mentioned
// person in the window.
type recencyStrategy struct{}

func (s *recencyStrategy) name() string { return "recency" }

func (s *recencyStrategy) resolve(_ context.Context, name string, sc Scope) (*candidate, error) {
	if !pronouns[strings.ToLower(name)] {
		return nil, nil
	}
	for _, m := range sc.Recent {
		if m.Type == datatypes.EntityPerson && m.Name != "" {
			return &candidate{name: m.Name, confidence: recencyConfidence, strategy: s.name()}, nil
		}
	}
	return nil, nil
}

// semanticStrategy is the last resort: if the name appears in semantically
// similar past conversation, keep the surface form as the resolved name at
// low confidence so downstream at least knows it has been heard before.
type semanticStrategy struct {
	searcher vector.Searcher
}

func (s *semanticStrategy) name() string { return "semantic" }

func (s *semanticStrategy) resolve(ctx context.Context, name string, _ Scope) (*candidate, error) {
	hits, err := s.searcher.Search(ctx, name, 3)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	for _, h := range hits {
		if strings.Contains(strings.ToLower(h.Text), lower) {
			return &candidate{id: h.SessionKey, name: name, confidence: semanticConfidence, strategy: s.name()}, nil
		}
	}
	return nil, nil
}

// =============================================================================
// Relationship Building
// =============================================================================

// BuildRelationships records edges between co-occurring entities:
// person-person pairs are mentioned_with, person-org and person-project
// pairs are works_on. Weights accumulate across conversations.
func BuildRelationships(ctx context.Context, store storage.Store, entities []datatypes.ExtractedEntity, conversationID string) error {
	if store == nil || len(entities) < 2 {
		return nil
	}
	evidence := ""
	if conversationID != "" {
		evidence = "conversation:" + conversationID
	}

	var persons, orgs, projects []string
	for _, e := range entities {
		name := e.ResolvedName
		if name == "" {
			name = e.Name
		}
		switch e.Type {
		case datatypes.EntityPerson:
			persons = append(persons, name)
		case datatypes.EntityOrg:
			orgs = append(orgs, name)
		case datatypes.EntityProject:
			projects = append(projects, name)
		}
	}

	for i, p1 := range persons {
		for _, p2 := range persons[i+1:] {
			if p1 == p2 {
				continue
			}
			if err := store.BumpRelationship(ctx, p1, p2, storage.RelMentionedWith, evidence); err != nil {
				return err
			}
		}
	}
	for _, p := range persons {
		for _, o := range orgs {
			if err := store.BumpRelationship(ctx, p, o, storage.RelWorksOn, evidence); err != nil {
				return err
			}
		}
		for _, pr := range projects {
			if err := store.BumpRelationship(ctx, p, pr, storage.RelWorksOn, evidence); err != nil {
				return err
			}
		}
	}
	return nil
}
