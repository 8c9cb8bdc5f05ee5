// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contacts is the address-book lookup collaborator used by tier-1
// recipient extraction: spoken name in, email or phone out.
package contacts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/GetPercept/percept/services/percept/fuzzy"
	"github.com/GetPercept/percept/services/percept/storage"
)

// Kind selects which handle a lookup should return.
const (
	KindEmail = "email"
	KindPhone = "phone"
)

// Book resolves a spoken surface form to a deliverable handle. Lookup must
// be an in-process operation: tier-1 classification depends on it staying
// deterministic and network-free.
type Book interface {
	// Lookup returns the contact matching name and the handle of the given
	// kind. ok is false when no contact matches or the matched contact has
	// no handle of that kind.
	Lookup(ctx context.Context, name, kind string) (handle string, ok bool)
}

// StoreBook implements Book over the storage collaborator's contact table
// with three passes: exact name, alias, then fuzzy similarity. The fuzzy
// bar is 0.8; a wrong recipient is worse than an unresolved one.
type StoreBook struct {
	store  storage.Store
	logger *slog.Logger
}

// NewStoreBook builds a Book over the given store.
func NewStoreBook(store storage.Store, logger *slog.Logger) *StoreBook {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreBook{store: store, logger: logger}
}

const fuzzyLookupThreshold = 0.8

func (b *StoreBook) Lookup(ctx context.Context, name, kind string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}

	all, err := b.store.Contacts(ctx)
	if err != nil {
		b.logger.Warn("contact lookup failed", slog.String("error", err.Error()))
		return "", false
	}

	// Exact name or alias.
	for _, c := range all {
		if strings.ToLower(c.Name) == name {
			return handleOf(c, kind)
		}
		// First name alone counts as exact: "text sarah" → "Sarah Chen".
		if first, _, found := strings.Cut(strings.ToLower(c.Name), " "); found && first == name {
			return handleOf(c, kind)
		}
		for _, alias := range c.Aliases {
			if strings.ToLower(alias) == name {
				return handleOf(c, kind)
			}
		}
	}

	// Fuzzy pass: best similarity above the bar wins.
	var best storage.Contact
	bestScore := 0.0
	for _, c := range all {
		score := fuzzy.RatioFold(name, c.Name)
		for _, alias := range c.Aliases {
			if s := fuzzy.RatioFold(name, alias); s > score {
				score = s
			}
		}
		if score > bestScore && score >= fuzzyLookupThreshold {
			best = c
			bestScore = score
		}
	}
	if bestScore > 0 {
		b.logger.Debug("contact fuzzy match",
			slog.String("surface", name),
			slog.String("contact", best.Name),
			slog.Float64("score", bestScore),
		)
		return handleOf(best, kind)
	}
	return "", false
}

func handleOf(c storage.Contact, kind string) (string, bool) {
	switch kind {
	case KindEmail:
		return c.Email, c.Email != ""
	case KindPhone:
		return c.Phone, c.Phone != ""
	default:
		return "", false
	}
}
