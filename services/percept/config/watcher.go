// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads wake phrases from the config file. The rest of the
// configuration requires a restart; wake phrases are the one knob users
// change while the device is live (renaming the assistant), so they are
// served through an atomic snapshot that the flush scheduler reads on
// every wake check.
type Watcher struct {
	path    string
	logger  *slog.Logger
	phrases atomic.Value // []string, lowercased
	fw      *fsnotify.Watcher
}

// NewWatcher creates a Watcher seeded with the given phrases. If path is
// empty, Watch becomes a no-op and the seed phrases are served forever.
func NewWatcher(path string, seed []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, logger: logger}
	w.phrases.Store(normalizePhrases(seed))
	return w
}

// WakePhrases returns the current lowercased wake phrases. Safe for
// concurrent use; this is the function handed to the flush scheduler.
func (w *Watcher) WakePhrases() []string {
	return w.phrases.Load().([]string)
}

// Watch blocks until ctx is done, reloading wake phrases whenever the
// config file is written. A file that fails to parse keeps the previous
// phrases; a watch that fails to start logs and returns (the service keeps
// running with the seed phrases).
func (w *Watcher) Watch(ctx context.Context) {
	if w.path == "" {
		<-ctx.Done()
		return
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		<-ctx.Done()
		return
	}
	defer fw.Close()
	w.fw = fw

	if err := fw.Add(w.path); err != nil {
		w.logger.Warn("config watch failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous wake phrases",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.phrases.Store(normalizePhrases(cfg.WakePhrases))
	w.logger.Info("wake phrases reloaded",
		slog.Int("count", len(cfg.WakePhrases)),
	)
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
