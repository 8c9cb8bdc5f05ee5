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
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	audioFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "audio",
		Name:      "flush_total",
		Help:      "Audio buffer flushes by trigger: silence, cap",
	}, []string{"trigger"})

	audioLateChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "percept",
		Subsystem: "audio",
		Name:      "late_chunks_total",
		Help:      "Chunks dropped because their stream already flushed",
	})
)

// AudioSink receives the assembled PCM of one flushed audio stream.
type AudioSink func(ctx context.Context, key string, pcm []byte, sampleRate int)

// AudioOptions configures the raw-audio accumulator.
type AudioOptions struct {
	// SilenceTimeout flushes a stream after this long without a chunk.
	SilenceTimeout time.Duration

	// MaxDuration caps how much audio a stream buffers before a forced
	// flush, measured against SampleRate assuming 16-bit mono PCM.
	MaxDuration time.Duration

	// SampleRate of the incoming PCM, in Hz.
	SampleRate int
}

type audioChunk struct {
	seq  int
	data []byte
}

type audioStream struct {
	chunks   []audioChunk
	bytes    int
	epoch    uint64
	flushing bool
}

// AudioBuffer accumulates sequence-numbered PCM chunks per session and
// flushes the reassembled stream on silence or when the duration cap is
// hit. A flushed stream latches: chunks that straggle in after the flush
// are counted and dropped rather than starting a phantom stream.
//
// Thread Safety: Safe for concurrent use.
type AudioBuffer struct {
	opts   AudioOptions
	sink   AudioSink
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*audioStream
	done    map[string]time.Time
}

// NewAudioBuffer creates an AudioBuffer. sink must not be nil.
func NewAudioBuffer(opts AudioOptions, sink AudioSink, logger *slog.Logger) *AudioBuffer {
	if sink == nil {
		panic("NewAudioBuffer: sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioBuffer{
		opts:    opts,
		sink:    sink,
		logger:  logger,
		streams: make(map[string]*audioStream),
		done:    make(map[string]time.Time),
	}
}

// AddChunk buffers one PCM chunk for key. Chunks may arrive out of order;
// they are reassembled by seq at flush time. Empty chunks are dropped.
func (b *AudioBuffer) AddChunk(key string, seq int, data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	if at, ok := b.done[key]; ok {
		if time.Since(at) < b.opts.SilenceTimeout {
			b.mu.Unlock()
			audioLateChunks.Inc()
			return
		}
		// Latch expired; key may start a fresh stream.
		delete(b.done, key)
	}

	st := b.streams[key]
	if st == nil {
		st = &audioStream{}
		b.streams[key] = st
	}
	st.chunks = append(st.chunks, audioChunk{seq: seq, data: data})
	st.bytes += len(data)

	if b.capBytes() > 0 && st.bytes >= b.capBytes() && !st.flushing {
		st.flushing = true
		st.epoch++
		b.mu.Unlock()
		b.logger.Warn("audio stream hit duration cap, forcing flush",
			slog.String("session", key),
			slog.Int("bytes", st.bytes),
		)
		go b.flush(key, "cap")
		return
	}

	if !st.flushing {
		st.epoch++
		epoch := st.epoch
		b.mu.Unlock()
		go b.await(key, epoch)
		return
	}
	b.mu.Unlock()
}

func (b *AudioBuffer) await(key string, epoch uint64) {
	time.Sleep(b.opts.SilenceTimeout)

	b.mu.Lock()
	st := b.streams[key]
	if st == nil || st.flushing || st.epoch != epoch {
		b.mu.Unlock()
		return
	}
	st.flushing = true
	b.mu.Unlock()

	b.flush(key, "silence")
}

func (b *AudioBuffer) flush(key, trigger string) {
	b.mu.Lock()
	st := b.streams[key]
	if st == nil {
		b.mu.Unlock()
		return
	}
	delete(b.streams, key)
	b.done[key] = time.Now()
	chunks := st.chunks
	total := st.bytes
	b.mu.Unlock()

	if total == 0 {
		return
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })
	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c.data...)
	}

	audioFlushTotal.WithLabelValues(trigger).Inc()
	b.logger.Info("audio flush",
		slog.String("session", key),
		slog.String("trigger", trigger),
		slog.Int("bytes", len(pcm)),
	)
	b.sink(context.Background(), key, pcm, b.opts.SampleRate)
}

// capBytes converts the duration cap into a byte budget for 16-bit mono
// PCM at the configured sample rate.
func (b *AudioBuffer) capBytes() int {
	if b.opts.MaxDuration <= 0 || b.opts.SampleRate <= 0 {
		return 0
	}
	return int(b.opts.MaxDuration.Seconds() * float64(b.opts.SampleRate) * 2)
}
