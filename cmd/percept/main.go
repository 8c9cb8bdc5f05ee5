// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command percept runs the ambient-listening core.
//
// Percept buffers transcript segments per session, flushes on silence,
// and turns wake-phrase commands into structured actions:
//   - Two-tier intent classification (deterministic rules, then an
//     external reasoner with caching)
//   - Speaker allowlist with primary-user bypass and a security log
//   - Multi-strategy entity resolution over a local relationship graph
//   - Command safety screening before any dispatch
//
// Usage:
//
//	go run ./cmd/percept serve
//	go run ./cmd/percept serve --config percept.yaml
//
// Offline utilities:
//
//	# Which intent does a phrasing produce?
//	go run ./cmd/percept classify "remind me in thirty minutes to call mom"
//
//	# What does the duration parser make of a spoken phrase?
//	go run ./cmd/percept duration "half an hour"
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8990/v1/percept/health
//
//	# Buffer segments
//	curl -X POST http://localhost:8990/v1/percept/segments \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_key": "living-room", "segments": [{"text": "hey jarvis remind me in ten minutes to stretch", "speaker": "sp-1"}]}'
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath and debugMode hold persistent flag values.
var (
	configPath string
	debugMode  bool
)

func main() {
	root := &cobra.Command{
		Use:   "percept",
		Short: "Ambient-listening voice command core",
		Long: "Percept buffers ambient speech per session and turns wake-phrase\n" +
			"commands into structured, safety-screened actions.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults are built in)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging and request logs")

	root.AddCommand(newServeCommand())
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newResolveCommand())
	root.AddCommand(newDurationCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
