// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetPercept/percept/services/percept/storage"
)

func seededBook(t *testing.T) *StoreBook {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewBadgerStore(db, nil)
	ctx := context.Background()
	require.NoError(t, store.SaveContact(ctx, storage.Contact{
		Name: "Sarah Chen", Aliases: []string{"boss"}, Email: "sarah@example.com", Phone: "+15550001111",
	}))
	require.NoError(t, store.SaveContact(ctx, storage.Contact{
		Name: "David", Phone: "+15550002222",
	}))
	return NewStoreBook(store, nil)
}

func TestLookupExact(t *testing.T) {
	b := seededBook(t)
	ctx := context.Background()

	email, ok := b.Lookup(ctx, "Sarah Chen", KindEmail)
	require.True(t, ok)
	assert.Equal(t, "sarah@example.com", email)

	phone, ok := b.Lookup(ctx, "david", KindPhone)
	require.True(t, ok)
	assert.Equal(t, "+15550002222", phone)
}

func TestLookupFirstName(t *testing.T) {
	b := seededBook(t)
	phone, ok := b.Lookup(context.Background(), "sarah", KindPhone)
	require.True(t, ok)
	assert.Equal(t, "+15550001111", phone)
}

func TestLookupAlias(t *testing.T) {
	b := seededBook(t)
	email, ok := b.Lookup(context.Background(), "boss", KindEmail)
	require.True(t, ok)
	assert.Equal(t, "sarah@example.com", email)
}

func TestLookupFuzzy(t *testing.T) {
	b := seededBook(t)
	// Transcription slip: "davd" should still find David.
	phone, ok := b.Lookup(context.Background(), "davd", KindPhone)
	require.True(t, ok)
	assert.Equal(t, "+15550002222", phone)
}

func TestLookupMissingHandle(t *testing.T) {
	b := seededBook(t)
	// David has no email on file.
	_, ok := b.Lookup(context.Background(), "david", KindEmail)
	assert.False(t, ok)
}

func TestLookupUnknown(t *testing.T) {
	b := seededBook(t)
	_, ok := b.Lookup(context.Background(), "zzzz", KindPhone)
	assert.False(t, ok)
}
