// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage is the persistence collaborator for the Percept core.
//
// Everything lives in a single embedded BadgerDB instance: speaker and
// contact registries, conversations and utterances, the entity-mention log,
// the relationship graph, security events, and emitted actions. The DB is
// also shared with the intent package, which keeps its tier-2 result cache
// under its own key prefix.
//
// Storage is assumed fast and synchronous; callers treat failures as
// log-and-continue, never as pipeline stalls.
package storage

import (
	"context"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DB is a thin wrapper around a BadgerDB instance shared by the store and
// the intent cache. The wrapper owns nothing but the handle; callers close
// it once at shutdown.
type DB struct {
	db *dgbadger.DB
}

// Open opens (or creates) the BadgerDB at dir. Badger's own logger is
// silenced; storage diagnostics go through slog at the call sites that
// care.
func Open(dir string) (*DB, error) {
	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory instance. Test use only.
func OpenInMemory() (*DB, error) {
	opts := dgbadger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying BadgerDB.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithTxn runs fn inside a read-write transaction. The context is checked
// before the transaction starts; Badger transactions themselves are not
// cancellable mid-flight.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}
