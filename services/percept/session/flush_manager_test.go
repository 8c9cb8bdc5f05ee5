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

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// collector is a Sink that records every flush it receives.
type collector struct {
	mu      sync.Mutex
	flushes []Flush
	ch      chan Flush
}

func newCollector() *collector {
	return &collector{ch: make(chan Flush, 16)}
}

func (c *collector) sink(_ context.Context, f Flush) {
	c.mu.Lock()
	c.flushes = append(c.flushes, f)
	c.mu.Unlock()
	c.ch <- f
}

func (c *collector) wait(t *testing.T, d time.Duration) Flush {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(d):
		t.Fatal("timed out waiting for flush")
		return Flush{}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flushes)
}

func phrases(ps ...string) func() []string {
	return func() []string { return ps }
}

func seg(text string) datatypes.Segment {
	return datatypes.Segment{Text: text, SpeakerID: "spk-1"}
}

func testOptions() Options {
	return Options{
		SilenceTimeout:     40 * time.Millisecond,
		CommandTimeout:     150 * time.Millisecond,
		ContinuationWindow: 400 * time.Millisecond,
		MaxBufferDuration:  5 * time.Second,
		ExtensionPoll:      20 * time.Millisecond,
	}
}

func TestFlushAfterSilence(t *testing.T) {
	c := newCollector()
	m := NewFlushManager(testOptions(), phrases(), c.sink, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("the quarterly numbers look fine")})
	f := c.wait(t, time.Second)

	require.Equal(t, "s1", f.Key)
	require.Len(t, f.Segments, 1)
	require.False(t, f.Command)
	require.False(t, f.WakeHeard)
	require.Equal(t, 0, m.ActiveSessions())
}

func TestContinuedSpeechProducesSingleFlush(t *testing.T) {
	c := newCollector()
	m := NewFlushManager(testOptions(), phrases(), c.sink, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("first")})
	time.Sleep(15 * time.Millisecond)
	m.Add("s1", []datatypes.Segment{seg("second")})
	time.Sleep(15 * time.Millisecond)
	m.Add("s1", []datatypes.Segment{seg("third")})

	f := c.wait(t, time.Second)
	require.Len(t, f.Segments, 3)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, c.count(), "rescheduled timers must not double-flush")
}

func TestWakePhraseExtendsWait(t *testing.T) {
	c := newCollector()
	m := NewFlushManager(testOptions(), phrases("hey jarvis"), c.sink, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("hey jarvis")})
	// Pause past the silence timeout, then finish the command. The
	// extension loop must sweep the late segment into the same flush.
	time.Sleep(70 * time.Millisecond)
	m.Add("s1", []datatypes.Segment{seg("remind me in thirty minutes to call mom")})

	f := c.wait(t, 2*time.Second)
	require.True(t, f.Command)
	require.True(t, f.WakeHeard)
	require.Len(t, f.Segments, 2)
	require.Equal(t, 1, c.count())
}

func TestContinuationWindowMarksFollowupAsCommand(t *testing.T) {
	c := newCollector()
	m := NewFlushManager(testOptions(), phrases("hey jarvis"), c.sink, slog.Default())

	require.False(t, m.InContinuationWindow("s1"))

	m.Add("s1", []datatypes.Segment{seg("hey jarvis set a timer for thirty minutes")})
	f := c.wait(t, 2*time.Second)
	require.True(t, f.WakeHeard)
	require.True(t, m.InContinuationWindow("s1"))

	m.Add("s1", []datatypes.Segment{seg("actually make it an hour")})
	f = c.wait(t, 2*time.Second)
	require.True(t, f.Command, "flush inside continuation window counts as addressed")
	require.False(t, f.WakeHeard)
}

func TestMaxBufferDurationForcesFlush(t *testing.T) {
	opts := testOptions()
	opts.SilenceTimeout = 5 * time.Second // silence can never fire first
	opts.MaxBufferDuration = 30 * time.Millisecond
	c := newCollector()
	m := NewFlushManager(opts, phrases(), c.sink, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("one")})
	time.Sleep(50 * time.Millisecond)
	m.Add("s1", []datatypes.Segment{seg("two")})

	f := c.wait(t, time.Second)
	require.Len(t, f.Segments, 2)
}

func TestMaxBufferDurationCapsWakeExtension(t *testing.T) {
	opts := testOptions()
	opts.SilenceTimeout = 30 * time.Millisecond
	opts.CommandTimeout = 5 * time.Second
	opts.MaxBufferDuration = 150 * time.Millisecond
	opts.ExtensionPoll = 10 * time.Millisecond
	c := newCollector()
	m := NewFlushManager(opts, phrases("hey jarvis"), c.sink, slog.Default())

	// Wake phrase, a pause long enough for the extension loop to claim the
	// session, then speech that never stops. Each new segment resets the
	// extension wait; the hard cap still has to end the session.
	m.Add("s1", []datatypes.Segment{seg("hey jarvis")})
	time.Sleep(40 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			m.Add("s1", []datatypes.Segment{seg("and another thing")})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	f := c.wait(t, 650*time.Millisecond)
	require.True(t, f.WakeHeard)
	require.Greater(t, len(f.Segments), 1)
	<-done
}

func TestStaleTimerCannotClaimRecreatedSession(t *testing.T) {
	opts := testOptions()
	opts.SilenceTimeout = 60 * time.Millisecond
	opts.MaxBufferDuration = 20 * time.Millisecond
	c := newCollector()
	m := NewFlushManager(opts, phrases(), c.sink, slog.Default())

	// The cap flushes the first generation while its silence timer is
	// still pending, then the same key is reborn. The leftover timer
	// must not flush the new generation early.
	m.Add("s1", []datatypes.Segment{seg("one")})
	time.Sleep(30 * time.Millisecond)
	m.Add("s1", []datatypes.Segment{seg("two")})
	f := c.wait(t, time.Second)
	require.Len(t, f.Segments, 2)

	m.Add("s1", []datatypes.Segment{seg("fresh start")})
	time.Sleep(45 * time.Millisecond) // stale timer fires in here
	require.Equal(t, 1, c.count(), "leftover timer flushed the reborn session")

	f = c.wait(t, time.Second)
	require.Len(t, f.Segments, 1)
	require.Equal(t, "fresh start", f.Segments[0].Text)
}

func TestEmptySegmentsDropped(t *testing.T) {
	c := newCollector()
	m := NewFlushManager(testOptions(), phrases(), c.sink, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("   "), seg("")})
	require.Equal(t, 0, m.ActiveSessions())
}

func TestSinkPanicDoesNotCorruptRegistry(t *testing.T) {
	calls := 0
	m := NewFlushManager(testOptions(), phrases(), func(context.Context, Flush) {
		calls++
		panic("downstream blew up")
	}, slog.Default())

	m.Add("s1", []datatypes.Segment{seg("hello")})
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, 1, calls)
	require.Equal(t, 0, m.ActiveSessions())

	// The registry is clean; the next session flushes normally.
	m.Add("s1", []datatypes.Segment{seg("again")})
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 2, calls)
}
