// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type audioCollector struct {
	mu   sync.Mutex
	pcm  [][]byte
	rate int
	ch   chan struct{}
}

func newAudioCollector() *audioCollector {
	return &audioCollector{ch: make(chan struct{}, 16)}
}

func (c *audioCollector) sink(_ context.Context, _ string, pcm []byte, rate int) {
	c.mu.Lock()
	c.pcm = append(c.pcm, pcm)
	c.rate = rate
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *audioCollector) wait(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for audio flush")
	}
}

func TestAudioFlushReassemblesBySequence(t *testing.T) {
	c := newAudioCollector()
	b := NewAudioBuffer(AudioOptions{
		SilenceTimeout: 40 * time.Millisecond,
		MaxDuration:    30 * time.Second,
		SampleRate:     16000,
	}, c.sink, slog.Default())

	// Chunks 2 and 1 land out of order.
	b.AddChunk("s1", 0, []byte("aa"))
	b.AddChunk("s1", 2, []byte("cc"))
	b.AddChunk("s1", 1, []byte("bb"))

	c.wait(t, time.Second)
	require.Equal(t, []byte("aabbcc"), c.pcm[0])
	require.Equal(t, 16000, c.rate)
}

func TestAudioLateChunkIsDroppedByLatch(t *testing.T) {
	c := newAudioCollector()
	b := NewAudioBuffer(AudioOptions{
		SilenceTimeout: 40 * time.Millisecond,
		MaxDuration:    30 * time.Second,
		SampleRate:     16000,
	}, c.sink, slog.Default())

	b.AddChunk("s1", 0, []byte("aa"))
	c.wait(t, time.Second)

	// A straggler right after the flush must not open a phantom stream.
	b.AddChunk("s1", 1, []byte("bb"))
	time.Sleep(100 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.pcm, 1)
}

func TestAudioDurationCapForcesFlush(t *testing.T) {
	c := newAudioCollector()
	b := NewAudioBuffer(AudioOptions{
		SilenceTimeout: 5 * time.Second,
		// 1ms of 16-bit mono at 1000 Hz is 2 bytes.
		MaxDuration: time.Millisecond,
		SampleRate:  1000,
	}, c.sink, slog.Default())

	b.AddChunk("s1", 0, []byte("abcd"))
	c.wait(t, time.Second)
	require.Equal(t, []byte("abcd"), c.pcm[0])
}
