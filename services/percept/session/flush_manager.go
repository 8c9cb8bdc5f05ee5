// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the per-session accumulation state of the Percept
// core: the command flush scheduler, the raw-audio chunk buffer, and the
// longer-lived conversation window.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	sessionFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "session",
		Name:      "flush_total",
		Help:      "Session flushes by trigger: silence, cap",
	}, []string{"trigger"})

	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "percept",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently accumulating segments",
	})

	sessionWakeExtensions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "session",
		Name:      "wake_extensions_total",
		Help:      "Times the flush wait was extended because a wake phrase was buffered",
	})

	sessionFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "session",
		Name:      "flush_failures_total",
		Help:      "Flush sink invocations that panicked",
	})
)

// =============================================================================
// Types
// =============================================================================

// Flush is one finalized unit of work handed to the sink.
type Flush struct {
	// Key is the session key the segments were buffered under.
	Key string

	// Segments are the buffered segments in arrival order.
	Segments []datatypes.Segment

	// Command is true when this flush should be treated as an addressed
	// command: a wake phrase was heard, or the flush landed inside the
	// continuation window of a previous wake flush.
	Command bool

	// WakeHeard is true only when a wake phrase literally appears in the
	// flushed text (Command may be true without it, via continuation).
	WakeHeard bool
}

// Sink consumes a flush. Invoked from the scheduler's own goroutine with a
// background context: flush processing outlives the ingest request that
// delivered the final segment. Panics are recovered and logged; buffer
// state is already popped by the time the sink runs, so a failing sink can
// never corrupt the registry.
type Sink func(ctx context.Context, f Flush)

// Options configures the flush scheduler's timing.
type Options struct {
	// SilenceTimeout is the quiet span after which a session flushes.
	SilenceTimeout time.Duration

	// CommandTimeout bounds the extra wait when a wake phrase is buffered.
	CommandTimeout time.Duration

	// ContinuationWindow is the grace period after a wake flush during
	// which subsequent flushes still count as command context.
	ContinuationWindow time.Duration

	// MaxBufferDuration force-flushes a session that never goes silent.
	MaxBufferDuration time.Duration

	// ExtensionPoll is the check interval of the wake extension loop.
	ExtensionPoll time.Duration
}

// session is one key's accumulation state.
//
// epoch is the authoritative flush token: Add increments it for every
// rescheduled timer, and a timer goroutine that wakes up to a different
// epoch abandons itself. flushing is the single-flight claim: once set,
// exactly one goroutine owns the path to the pop, and later Adds append
// segments without scheduling a competing timer (the extension loop picks
// them up).
type session struct {
	segments     []datatypes.Segment
	startedAt    time.Time
	lastActivity time.Time
	epoch        uint64
	flushing     bool
}

// FlushManager schedules per-session flushes: silence timeout, wake-phrase
// extension, continuation window, and the hard buffer cap.
//
// Thread Safety: Safe for concurrent use. All session state is owned by a
// single registry mutex; timer goroutines re-validate their epoch under
// that mutex before touching anything.
type FlushManager struct {
	opts        Options
	wakePhrases func() []string
	sink        Sink
	logger      *slog.Logger

	mu            sync.Mutex
	sessions      map[string]*session
	lastWakeFlush map[string]time.Time

	// epochs is a manager-global monotonic counter so a timer armed for a
	// dead session generation can never match an epoch in a fresh session
	// under the same key.
	epochs uint64
}

// NewFlushManager creates a FlushManager.
//
// wakePhrases is called on every wake check so hot-reloaded phrases take
// effect immediately; it must return lowercased phrases and be safe for
// concurrent use. sink must not be nil.
func NewFlushManager(opts Options, wakePhrases func() []string, sink Sink, logger *slog.Logger) *FlushManager {
	if sink == nil {
		panic("NewFlushManager: sink must not be nil")
	}
	if wakePhrases == nil {
		wakePhrases = func() []string { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExtensionPoll <= 0 {
		opts.ExtensionPoll = time.Second
	}
	return &FlushManager{
		opts:          opts,
		wakePhrases:   wakePhrases,
		sink:          sink,
		logger:        logger,
		sessions:      make(map[string]*session),
		lastWakeFlush: make(map[string]time.Time),
	}
}

// =============================================================================
// Ingest
// =============================================================================

// Add appends segments to the session buffer and reschedules its flush.
//
// Empty-text segments are malformed input and dropped silently. If the
// accumulated span crosses MaxBufferDuration the session is flushed on the
// spot, bounding memory for a stream that never pauses.
func (m *FlushManager) Add(key string, segs []datatypes.Segment) {
	now := time.Now()
	kept := segs[:0:0]
	for _, s := range segs {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.ArrivedAt.IsZero() {
			s.ArrivedAt = now
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return
	}

	m.mu.Lock()
	st := m.sessions[key]
	if st == nil {
		st = &session{startedAt: now}
		m.sessions[key] = st
		sessionActive.Inc()
	}
	st.segments = append(st.segments, kept...)
	st.lastActivity = now

	if m.opts.MaxBufferDuration > 0 && now.Sub(st.startedAt) >= m.opts.MaxBufferDuration && !st.flushing {
		// Hard cap: claim and flush immediately, regardless of timers.
		st.flushing = true
		m.epochs++
		st.epoch = m.epochs
		m.mu.Unlock()
		m.logger.Warn("session hit max buffer duration, forcing flush",
			slog.String("session", key),
			slog.Duration("span", now.Sub(st.startedAt)),
		)
		go m.flush(key, "cap")
		return
	}

	if !st.flushing {
		// Cancel-and-replace: bumping the epoch invalidates every timer
		// goroutine armed before this segment arrived.
		m.epochs++
		st.epoch = m.epochs
		epoch := st.epoch
		m.mu.Unlock()
		go m.await(key, epoch)
		return
	}
	m.mu.Unlock()
}

// =============================================================================
// Scheduling
// =============================================================================

// await is the timer body for one accumulation epoch. It waits out the
// silence timeout, claims the session if it still holds the current epoch,
// runs the wake-phrase extension loop if needed, then flushes.
func (m *FlushManager) await(key string, epoch uint64) {
	time.Sleep(m.opts.SilenceTimeout)

	m.mu.Lock()
	st := m.sessions[key]
	if st == nil || st.flushing || st.epoch != epoch {
		// A newer segment rescheduled the flush, or another timer already
		// claimed it. This epoch is dead.
		m.mu.Unlock()
		return
	}
	st.flushing = true
	hasWake := containsAny(joinedText(st.segments), m.wakePhrases())
	count := len(st.segments)
	m.mu.Unlock()

	if hasWake {
		// The speaker addressed the device; a pause here is likely
		// mid-command. Keep waiting, resetting whenever speech resumes.
		sessionWakeExtensions.Inc()
		m.logger.Debug("wake phrase buffered, extending flush wait",
			slog.String("session", key),
			slog.Duration("command_timeout", m.opts.CommandTimeout),
		)
		waited := time.Duration(0)
		for waited < m.opts.CommandTimeout {
			time.Sleep(m.opts.ExtensionPoll)
			m.mu.Lock()
			cur := 0
			capped := false
			if st := m.sessions[key]; st != nil {
				cur = len(st.segments)
				capped = m.opts.MaxBufferDuration > 0 &&
					time.Since(st.startedAt) >= m.opts.MaxBufferDuration
			}
			m.mu.Unlock()
			if capped {
				// The hard cap outranks the extension: a speaker who never
				// pauses after the wake phrase must still flush.
				m.logger.Warn("session hit max buffer duration during wake extension",
					slog.String("session", key),
				)
				m.flush(key, "cap")
				return
			}
			if cur > count {
				count = cur
				waited = 0
				continue
			}
			waited += m.opts.ExtensionPoll
		}
	}

	m.flush(key, "silence")
}

// flush pops the session and hands its segments to the sink. The pop is
// the commit point: a popped session cannot be flushed twice, and sink
// failures cannot corrupt registry state.
func (m *FlushManager) flush(key, trigger string) {
	m.mu.Lock()
	st := m.sessions[key]
	if st == nil {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, key)
	sessionActive.Dec()

	segs := st.segments
	wake := containsAny(joinedText(segs), m.wakePhrases())
	cont := m.inContinuationLocked(key)
	if wake || cont {
		m.lastWakeFlush[key] = time.Now()
	}
	m.mu.Unlock()

	if len(segs) == 0 {
		return
	}

	sessionFlushTotal.WithLabelValues(trigger).Inc()
	m.logger.Info("session flush",
		slog.String("session", key),
		slog.String("trigger", trigger),
		slog.Int("segments", len(segs)),
		slog.Bool("command", wake || cont),
	)

	defer func() {
		if r := recover(); r != nil {
			sessionFlushFailures.Inc()
			m.logger.Error("flush sink panicked",
				slog.String("session", key),
				slog.Any("panic", r),
			)
		}
	}()
	m.sink(context.Background(), Flush{
		Key:       key,
		Segments:  segs,
		Command:   wake || cont,
		WakeHeard: wake,
	})
}

// =============================================================================
// Introspection
// =============================================================================

// ActiveSessions returns the number of sessions currently buffering.
func (m *FlushManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// InContinuationWindow reports whether key is inside the grace period of a
// previous wake flush.
func (m *FlushManager) InContinuationWindow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inContinuationLocked(key)
}

func (m *FlushManager) inContinuationLocked(key string) bool {
	last, ok := m.lastWakeFlush[key]
	if !ok {
		return false
	}
	return time.Since(last) < m.opts.ContinuationWindow
}

// =============================================================================
// Helpers
// =============================================================================

func joinedText(segs []datatypes.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, s.Text)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// containsAny reports whether any phrase occurs in text. Both sides are
// expected lowercased.
func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
