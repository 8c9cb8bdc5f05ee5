// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the Percept core configuration.
//
// Defaults are embedded in the binary; a YAML file passed at startup
// overrides them field by field. Wake phrases can additionally be hot
// reloaded from the same file while the service runs (see Watcher), so
// renaming the assistant does not require a restart.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed percept.yaml
var defaultConfigYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full Percept core configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent reads. Hot
// reloading goes through Watcher, which hands out fresh snapshots rather
// than mutating a live Config.
type Config struct {
	// ListenAddr is the HTTP listen address for the ingest surface.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the root directory for the embedded Badger store.
	DataDir string `yaml:"data_dir"`

	// WakePhrases are the trigger phrases marking an addressed command.
	// Matched case-insensitively as substrings of the buffered text.
	WakePhrases []string `yaml:"wake_phrases"`

	Session      SessionConfig      `yaml:"session"`
	Conversation ConversationConfig `yaml:"conversation"`
	Audio        AudioConfig        `yaml:"audio"`
	Authz        AuthzConfig        `yaml:"authz"`
	Intent       IntentConfig       `yaml:"intent"`
	Entity       EntityConfig       `yaml:"entity"`
	Reasoner     ReasonerConfig     `yaml:"reasoner"`
	Vector       VectorConfig       `yaml:"vector"`
	STT          STTConfig          `yaml:"stt"`
}

// SessionConfig controls the per-session flush scheduler.
type SessionConfig struct {
	// SilenceTimeout is how long a session must stay quiet before its
	// buffered segments are flushed.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// CommandTimeout is the extra wait applied when the buffer contains a
	// wake phrase, so a trailing command is captured whole.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ContinuationWindow is the grace period after a wake-triggered flush
	// during which follow-up speech is still treated as command context.
	ContinuationWindow time.Duration `yaml:"continuation_window"`

	// MaxBufferDuration bounds a session that never goes silent. Crossing
	// it forces an immediate flush regardless of timers.
	MaxBufferDuration time.Duration `yaml:"max_buffer_duration"`

	// ExtensionPoll is the polling interval inside the wake-phrase
	// extension loop.
	ExtensionPoll time.Duration `yaml:"extension_poll"`
}

// ConversationConfig controls the long-lived conversation window.
type ConversationConfig struct {
	// EndTimeout is the silence span after which a conversation is
	// considered over and handed to summarization.
	EndTimeout time.Duration `yaml:"end_timeout"`

	// RecentEntityWindow is how many recently mentioned entities are kept
	// for pronoun/recency resolution.
	RecentEntityWindow int `yaml:"recent_entity_window"`
}

// AudioConfig controls raw PCM chunk buffering.
type AudioConfig struct {
	SilenceTimeout    time.Duration `yaml:"silence_timeout"`
	MaxBufferDuration time.Duration `yaml:"max_buffer_duration"`

	// SampleRate in Hz; chunks are assumed 16-bit mono.
	SampleRate int `yaml:"sample_rate"`
}

// AuthzConfig controls the speaker allowlist.
type AuthzConfig struct {
	// AllowedSpeakers is the opt-in allowlist. Empty means allow all.
	AllowedSpeakers []string `yaml:"allowed_speakers"`
}

// IntentConfig controls the two-tier classifier.
type IntentConfig struct {
	// ReasonerTimeout bounds a single tier-2 call.
	ReasonerTimeout time.Duration `yaml:"reasoner_timeout"`

	// CacheTTL is the lifetime of cached tier-2 results.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HumanFloor forces HumanRequired on tier-2 results whose confidence
	// falls below it.
	HumanFloor float64 `yaml:"human_floor"`
}

// EntityConfig controls the resolver chain.
type EntityConfig struct {
	// FuzzyThreshold is the minimum similarity for a fuzzy name match.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ReasonerConfig selects and configures the tier-2 collaborator.
type ReasonerConfig struct {
	// Provider is "ollama" or "agent".
	Provider string `yaml:"provider"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// AgentURL is the HTTP endpoint of the reasoning/execution agent,
	// used when Provider is "agent" and for ActionRequest dispatch.
	AgentURL string `yaml:"agent_url"`

	// RatePerMinute caps outbound reasoner calls.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// STTConfig configures the external speech-to-text service used for raw
// audio ingest. Empty endpoint disables the audio path; transcript ingest
// still works.
type STTConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// VectorConfig configures the Weaviate-backed similarity search.
type VectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Scheme  string `yaml:"scheme"`
	Host    string `yaml:"host"`
	Class   string `yaml:"class"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior (zero timers, out-of-range thresholds).
func (c *Config) Validate() error {
	if c.Session.SilenceTimeout <= 0 {
		return fmt.Errorf("config: session.silence_timeout must be positive")
	}
	if c.Session.MaxBufferDuration <= c.Session.SilenceTimeout {
		return fmt.Errorf("config: session.max_buffer_duration must exceed silence_timeout")
	}
	if c.Session.ExtensionPoll <= 0 {
		return fmt.Errorf("config: session.extension_poll must be positive")
	}
	if c.Intent.HumanFloor < 0 || c.Intent.HumanFloor > 1 {
		return fmt.Errorf("config: intent.human_floor must be in [0,1]")
	}
	if c.Entity.FuzzyThreshold < 0 || c.Entity.FuzzyThreshold > 1 {
		return fmt.Errorf("config: entity.fuzzy_threshold must be in [0,1]")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: audio.sample_rate must be positive")
	}
	for i, w := range c.WakePhrases {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("config: wake_phrases[%d] is blank", i)
		}
	}
	return nil
}
