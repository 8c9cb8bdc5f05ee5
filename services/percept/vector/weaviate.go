// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vector indexes conversation text into Weaviate and serves the
// semantic lookups the entity resolver and the tier-2 classifier fall
// back to when nothing structured matches.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Hit is one semantic search result.
type Hit struct {
	Text       string
	SessionKey string
	At         time.Time
	Certainty  float64
}

// Searcher is the semantic index surface the rest of the service sees.
type Searcher interface {
	// IndexConversation stores one piece of conversation text.
	IndexConversation(ctx context.Context, sessionKey, text string, at time.Time) error

	// Search returns up to limit hits semantically near query, most
	// relevant first.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// WeaviateSearcher implements Searcher on a Weaviate instance.
//
// Thread Safety: Safe for concurrent use.
type WeaviateSearcher struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// NewWeaviateSearcher connects to Weaviate at host (e.g. "localhost:8080")
// and ensures the conversation class exists.
func NewWeaviateSearcher(ctx context.Context, scheme, host, class string, logger *slog.Logger) (*WeaviateSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Scheme: scheme, Host: host})
	if err != nil {
		return nil, fmt.Errorf("weaviate: creating client: %w", err)
	}
	s := &WeaviateSearcher{client: client, class: class, logger: logger}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WeaviateSearcher) ensureClass(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: checking class %s: %w", s.class, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "One indexed slice of ambient conversation",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "sessionKey", DataType: []string{"string"}},
			{Name: "occurredAt", DataType: []string{"date"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("weaviate: creating class %s: %w", s.class, err)
	}
	s.logger.Info("created weaviate class", slog.String("class", s.class))
	return nil
}

// IndexConversation implements Searcher.
func (s *WeaviateSearcher) IndexConversation(ctx context.Context, sessionKey, text string, at time.Time) error {
	if text == "" {
		return nil
	}
	_, err := s.client.Data().Creator().
		WithClassName(s.class).
		WithProperties(map[string]any{
			"text":       text,
			"sessionKey": sessionKey,
			"occurredAt": at.Format(time.RFC3339),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: indexing conversation: %w", err)
	}
	return nil
}

// Search implements Searcher.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 3
	}
	nearText := s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearText(nearText).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "sessionKey"},
			graphql.Field{Name: "occurredAt"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: search: %s", resp.Errors[0].Message)
	}
	return s.parseHits(resp.Data)
}

func (s *WeaviateSearcher) parseHits(data map[string]models.JSONObject) ([]Hit, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := get[s.class].([]any)
	if !ok {
		return nil, nil
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		h := Hit{}
		h.Text, _ = obj["text"].(string)
		h.SessionKey, _ = obj["sessionKey"].(string)
		if ts, ok := obj["occurredAt"].(string); ok {
			h.At, _ = time.Parse(time.RFC3339, ts)
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			if c, ok := add["certainty"].(float64); ok {
				h.Certainty = c
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// RecentContext joins the top hits for query into a prompt-ready block,
// bounded to maxChars. Used to enrich tier-2 classification of commands
// with ambiguous references.
func RecentContext(ctx context.Context, s Searcher, query string, limit, maxChars int) string {
	if s == nil {
		return ""
	}
	hits, err := s.Search(ctx, query, limit)
	if err != nil || len(hits) == 0 {
		return ""
	}
	out := ""
	for _, h := range hits {
		if out != "" {
			out += "\n"
		}
		out += h.Text
		if len(out) >= maxChars {
			out = out[:maxChars]
			break
		}
	}
	return out
}
