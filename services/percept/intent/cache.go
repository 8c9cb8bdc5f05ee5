// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

// =============================================================================
// Cache: Tier-2 Result Persistence
// =============================================================================
//
// Reasoner calls cost seconds; the same phrase repeated inside a
// conversation should cost microseconds. Results are cached in BadgerDB
// under a digest of the normalized command text with a short native TTL.
//
// Design choices:
//
//	1. BadgerDB native TTL: expiry is enforced by Badger's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the
//	   cache treats as a miss.
//
//	2. SHA256 of the normalized text as the key: trimming and lowercasing
//	   fold trivial variations; anything else is a different command and
//	   deserves its own entry.
//
//	3. Only tier-2 results are cached. Tier-1 matches are already
//	   microsecond-fast and deterministic.
//
// Storage layout:
//
//	intent/v1/{sha256(normalized text)}  →  JSON ActionRequest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/storage"
)

const (
	cacheDefaultTTL = 5 * time.Minute
	cacheKeyPrefix  = "intent/v1/"
)

var errCacheMiss = errors.New("cache miss")

// Cache persists tier-2 classification results between repeats of the
// same phrase. Nil-safe: a nil *Cache misses on every load and drops
// every save, which is the correct behavior for tests and deployments
// without a cache directory.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db     *storage.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a Cache backed by db. The caller owns the DB
// lifecycle. Pass ttl 0 for the default (5 minutes).
func NewCache(db *storage.DB, ttl time.Duration, logger *slog.Logger) *Cache {
	if db == nil {
		panic("NewCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = cacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, ttl: ttl, logger: logger}
}

// Load returns the cached result for text, or (nil, nil) on a miss.
func (c *Cache) Load(ctx context.Context, text string) (*datatypes.ActionRequest, error) {
	if c == nil {
		return nil, nil
	}
	key := cacheKey(text)

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("intent cache load: %w", err)
	}

	var req datatypes.ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("intent cache decode: %w", err)
	}
	c.logger.Debug("intent cache: hit", slog.String("intent", req.Intent))
	return &req, nil
}

// Save persists a tier-2 result under text's digest with the cache TTL.
// Failure is non-fatal for the caller; the phrase is simply re-reasoned
// next time.
func (c *Cache) Save(ctx context.Context, text string, req *datatypes.ActionRequest) error {
	if c == nil || req == nil {
		return nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("intent cache encode: %w", err)
	}

	key := cacheKey(text)
	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("intent cache save: %w", err)
	}
	return nil
}

func cacheKey(text string) []byte {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return []byte(cacheKeyPrefix + hex.EncodeToString(sum[:]))
}
