// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package percept wires the ambient-listening pipeline together: segment
// ingest, session buffering, the command path (authorization, safety,
// classification, dispatch), and the passive path (entities, the
// relationship graph, conversation memory).
package percept

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/GetPercept/percept/services/percept/authz"
	"github.com/GetPercept/percept/services/percept/config"
	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/entity"
	"github.com/GetPercept/percept/services/percept/intent"
	"github.com/GetPercept/percept/services/percept/reasoner"
	"github.com/GetPercept/percept/services/percept/safety"
	"github.com/GetPercept/percept/services/percept/session"
	"github.com/GetPercept/percept/services/percept/storage"
	"github.com/GetPercept/percept/services/percept/stt"
	"github.com/GetPercept/percept/services/percept/vector"
)

var svcTracer = otel.Tracer("percept/service")

// ambiguousRefs are phrasings that benefit from semantic context when the
// command escalates to tier 2.
var ambiguousRefs = []string{
	"the client", "the team", "that meeting", "that person", "them", "him", "her",
}

// Deps are the collaborators the Service is assembled from. Store,
// Classifier, Resolver, and Gate are required; the rest may be nil and the
// corresponding feature is skipped.
type Deps struct {
	Store       storage.Store
	Gate        *authz.Gate
	Classifier  *intent.Classifier
	Resolver    *entity.Resolver
	Searcher    vector.Searcher
	Transcriber stt.Transcriber
	Executor    reasoner.Executor
	Summarizer  reasoner.Client

	// WakePhrases returns the current lowercased wake phrases; hot
	// reloadable.
	WakePhrases func() []string

	Logger *slog.Logger
}

// Service is the Percept core. One instance owns all per-session state.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg     *config.Config
	deps    Deps
	flushes *session.FlushManager
	audio   *session.AudioBuffer
	tracker *session.ConversationTracker
	logger  *slog.Logger

	seqMu  sync.Mutex
	uttSeq map[string]int
}

// NewService assembles the pipeline from cfg and deps.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("percept: cfg must not be nil")
	}
	if deps.Store == nil || deps.Gate == nil || deps.Classifier == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("percept: store, gate, classifier, and resolver are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.WakePhrases == nil {
		deps.WakePhrases = func() []string { return nil }
	}
	if deps.Executor == nil {
		deps.Executor = &reasoner.LogExecutor{Logger: deps.Logger}
	}

	s := &Service{cfg: cfg, deps: deps, logger: deps.Logger, uttSeq: make(map[string]int)}
	s.tracker = session.NewConversationTracker(
		cfg.Conversation.EndTimeout,
		cfg.Conversation.RecentEntityWindow,
		s,
		deps.Logger,
	)
	s.flushes = session.NewFlushManager(session.Options{
		SilenceTimeout:     cfg.Session.SilenceTimeout,
		CommandTimeout:     cfg.Session.CommandTimeout,
		ContinuationWindow: cfg.Session.ContinuationWindow,
		MaxBufferDuration:  cfg.Session.MaxBufferDuration,
		ExtensionPoll:      cfg.Session.ExtensionPoll,
	}, deps.WakePhrases, s.handleFlush, deps.Logger)
	s.audio = session.NewAudioBuffer(session.AudioOptions{
		SilenceTimeout: cfg.Audio.SilenceTimeout,
		MaxDuration:    cfg.Audio.MaxBufferDuration,
		SampleRate:     cfg.Audio.SampleRate,
	}, s.handleAudio, deps.Logger)
	return s, nil
}

// =============================================================================
// Ingest
// =============================================================================

// IngestSegments feeds transcript segments into the session buffer for key.
func (s *Service) IngestSegments(key string, segs []datatypes.Segment) {
	s.flushes.Add(key, segs)
}

// IngestAudioChunk buffers one raw PCM chunk for key.
func (s *Service) IngestAudioChunk(key string, seq int, data []byte) {
	s.audio.AddChunk(key, seq, data)
}

// ActiveSessions reports how many sessions are currently buffering.
func (s *Service) ActiveSessions() int {
	return s.flushes.ActiveSessions()
}

// ResolveEntity runs one name through the resolver chain against the
// given conversation. Exposed for the debug endpoint.
func (s *Service) ResolveEntity(ctx context.Context, name, entityType, conversationID string) datatypes.ExtractedEntity {
	if entityType == "" {
		entityType = datatypes.EntityPerson
	}
	return s.deps.Resolver.Resolve(ctx, datatypes.ExtractedEntity{
		Type: entityType, Name: name, Confidence: 0.6,
		Resolution: datatypes.ResolutionUnresolved,
	}, entity.Scope{
		ConversationID: conversationID,
		Recent:         s.recentMentions(conversationID),
	})
}

// Classify exposes the classifier for the debug endpoint; no side effects.
func (s *Service) Classify(ctx context.Context, text string) *datatypes.ActionRequest {
	cmd := intent.StripWakePrefix(text, s.deps.WakePhrases())
	return s.deps.Classifier.Classify(ctx, cmd, "", "")
}

// =============================================================================
// Audio Path
// =============================================================================

// handleAudio transcribes one flushed audio stream and feeds the segments
// back through the normal ingest path.
func (s *Service) handleAudio(ctx context.Context, key string, pcm []byte, sampleRate int) {
	if s.deps.Transcriber == nil {
		s.logger.Warn("audio flushed but no transcriber configured", slog.String("session", key))
		return
	}
	segs, err := s.deps.Transcriber.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		s.logger.Error("transcription failed",
			slog.String("session", key),
			slog.Any("error", err),
		)
		return
	}
	if len(segs) > 0 {
		s.IngestSegments(key, segs)
	}
}

// =============================================================================
// Flush Path
// =============================================================================

// handleFlush is the session sink: every flushed buffer passes through the
// passive path; addressed flushes additionally run the command path.
// Failures in one stage are logged and do not stop the rest.
func (s *Service) handleFlush(ctx context.Context, f session.Flush) {
	ctx, span := svcTracer.Start(ctx, "percept.handleFlush")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", f.Key),
		attribute.Int("segments", len(f.Segments)),
		attribute.Bool("command", f.Command),
	)

	text := joinSegments(f.Segments)
	s.observe(ctx, f, text)

	if !f.Command {
		return
	}
	if err := s.runCommand(ctx, f, text); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("command path failed",
			slog.String("session", f.Key),
			slog.String("trace_id", traceID(ctx)),
			slog.Any("error", err),
		)
	}
}

// traceID extracts the current trace ID for log correlation.
func traceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// observe is the passive path: speakers, utterances, entities, mentions,
// relationships, the conversation window, and the semantic index.
func (s *Service) observe(ctx context.Context, f session.Flush, text string) {
	store := s.deps.Store

	for _, seg := range f.Segments {
		id := seg.SpeakerID
		if id == "" {
			id = "unknown"
		}
		if err := store.BumpSpeaker(ctx, id, len(strings.Fields(seg.Text)), 1); err != nil {
			s.logger.Warn("speaker bump failed", slog.Any("error", err))
		}
		if err := store.AppendUtterance(ctx, storage.Utterance{
			ConversationID: f.Key,
			Seq:            s.nextSeq(f.Key),
			SpeakerID:      id,
			Text:           seg.Text,
			At:             seg.ArrivedAt,
		}); err != nil {
			s.logger.Warn("utterance append failed", slog.Any("error", err))
		}
	}

	extracted := entity.ExtractFast(text)
	resolved := s.deps.Resolver.ResolveAll(ctx, extracted, entity.Scope{
		ConversationID: f.Key,
		Recent:         s.recentMentions(f.Key),
	})

	for _, e := range resolved {
		if err := store.RecordMention(ctx, storage.Mention{
			ConversationID: f.Key,
			EntityName:     displayName(e),
			EntityType:     e.Type,
			At:             time.Now(),
		}); err != nil {
			s.logger.Warn("mention record failed", slog.Any("error", err))
		}
	}
	if err := entity.BuildRelationships(ctx, store, resolved, f.Key); err != nil {
		s.logger.Warn("relationship build failed", slog.Any("error", err))
	}

	s.tracker.Observe(f.Key, primarySpeaker(f.Segments), text, resolved)

	if s.deps.Searcher != nil {
		if err := s.deps.Searcher.IndexConversation(ctx, f.Key, text, time.Now()); err != nil {
			s.logger.Warn("vector index failed", slog.Any("error", err))
		}
	}
}

// runCommand is the addressed path: authorization, classification, safety,
// persistence, dispatch.
func (s *Service) runCommand(ctx context.Context, f session.Flush, text string) error {
	cmd := intent.StripWakePrefix(text, s.deps.WakePhrases())
	if cmd == "" {
		return nil
	}
	snippet := clipText(cmd, 120)

	decision := s.deps.Gate.Check(ctx, f.Segments, snippet)
	if !decision.Allowed {
		return nil
	}

	semanticContext := ""
	if s.deps.Searcher != nil && hasAmbiguousRef(cmd) {
		semanticContext = vector.RecentContext(ctx, s.deps.Searcher, cmd, 3, 1000)
	}

	req := s.deps.Classifier.Classify(ctx, cmd, text, semanticContext)

	verdict := safety.Classify(cmd, req.Params)
	if verdict.Blocked() {
		s.logger.Warn("command blocked by safety classifier",
			slog.String("session", f.Key),
			slog.String("category", verdict.Category),
		)
		if err := s.deps.Store.LogSecurityEvent(ctx, storage.SecurityEvent{
			SpeakerID: primarySpeaker(f.Segments),
			Snippet:   snippet,
			Reason:    "safety_" + verdict.Category,
			Detail:    verdict.Reason,
			At:        time.Now(),
		}); err != nil {
			s.logger.Warn("security event log failed", slog.Any("error", err))
		}
		if err := s.deps.Store.SaveAction(ctx, req, "blocked"); err != nil {
			s.logger.Warn("action save failed", slog.Any("error", err))
		}
		return nil
	}

	status := "pending"
	if req.HumanRequired {
		status = "needs_human"
	}
	if err := s.deps.Store.SaveAction(ctx, req, status); err != nil {
		s.logger.Warn("action save failed", slog.Any("error", err))
	}

	if req.HumanRequired || req.Intent == datatypes.IntentUnknown {
		s.logger.Info("command held for human review",
			slog.String("session", f.Key),
			slog.String("intent", req.Intent),
			slog.Float64("confidence", req.Confidence),
		)
		return nil
	}

	if err := s.deps.Executor.Dispatch(ctx, req); err != nil {
		return fmt.Errorf("dispatching action %s: %w", req.ID, err)
	}
	return nil
}

// =============================================================================
// Summarization
// =============================================================================

// Summarize implements session.Summarizer: when a conversation window
// closes, persist it and, when a summarizer backend is configured, store a
// short summary alongside.
func (s *Service) Summarize(ctx context.Context, key string, turns []session.Turn) {
	if len(turns) == 0 {
		return
	}
	transcript := make([]string, 0, len(turns))
	speakers := make(map[string]bool)
	words := 0
	for _, t := range turns {
		transcript = append(transcript, fmt.Sprintf("%s: %s", t.SpeakerID, t.Text))
		speakers[t.SpeakerID] = true
		words += len(strings.Fields(t.Text))
	}
	full := strings.Join(transcript, "\n")

	summary := ""
	if s.deps.Summarizer != nil {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		out, err := s.deps.Summarizer.Complete(ctx,
			"Summarize this conversation in two sentences. Mention people, commitments, and dates.\n\n"+clipText(full, 4000))
		if err != nil {
			s.logger.Warn("conversation summary failed", slog.Any("error", err))
		} else {
			summary = strings.TrimSpace(out)
		}
	}

	conv := storage.Conversation{
		ID:              key,
		StartedAt:       turns[0].At,
		DurationSeconds: turns[len(turns)-1].At.Sub(turns[0].At).Seconds(),
		SegmentCount:    len(turns),
		WordCount:       words,
		Speakers:        keys(speakers),
		Transcript:      full,
		Summary:         summary,
	}
	if err := s.deps.Store.SaveConversation(ctx, conv); err != nil {
		s.logger.Warn("conversation save failed", slog.Any("error", err))
	}
	if s.deps.Searcher != nil && summary != "" {
		if err := s.deps.Searcher.IndexConversation(ctx, key, summary, time.Now()); err != nil {
			s.logger.Warn("summary index failed", slog.Any("error", err))
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Service) nextSeq(key string) int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.uttSeq[key]++
	return s.uttSeq[key]
}

func (s *Service) recentMentions(key string) []entity.RecentMention {
	recent := s.tracker.RecentEntities(key)
	out := make([]entity.RecentMention, 0, len(recent))
	for _, r := range recent {
		out = append(out, entity.RecentMention{Name: r.Name, Type: r.Type})
	}
	return out
}

func joinSegments(segs []datatypes.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// primarySpeaker picks the speaker to attribute a flush to: the first
// primary-user segment, else the first speaker.
func primarySpeaker(segs []datatypes.Segment) string {
	for _, s := range segs {
		if s.IsPrimaryUser && s.SpeakerID != "" {
			return s.SpeakerID
		}
	}
	for _, s := range segs {
		if s.SpeakerID != "" {
			return s.SpeakerID
		}
	}
	return "unknown"
}

func hasAmbiguousRef(text string) bool {
	lower := strings.ToLower(text)
	for _, ref := range ambiguousRefs {
		if strings.Contains(lower, ref) {
			return true
		}
	}
	return false
}

func displayName(e datatypes.ExtractedEntity) string {
	if e.ResolvedName != "" {
		return e.ResolvedName
	}
	return e.Name
}

func clipText(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
