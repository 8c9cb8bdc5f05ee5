// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GetPercept/percept/services/percept/durparse"
	"github.com/GetPercept/percept/services/percept/entity"
	"github.com/GetPercept/percept/services/percept/intent"
)

// newClassifyCommand runs the tier-1 rules against a phrase without a
// server, a store, or a reasoner. Useful for checking which phrasings stay
// deterministic and which would escalate.
func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Run the deterministic intent rules against a phrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			rules := intent.NewRules(nil, "")
			req := rules.Parse(cmd.Context(), text, "")
			if req == nil {
				fmt.Println("no tier-1 match (would escalate to the reasoner)")
				return nil
			}
			return printJSON(req)
		},
	}
}

// newResolveCommand runs the fast entity extractor over a phrase. Without a
// store there is nothing to resolve against, so it shows what the passive
// path would extract.
func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entities <text>",
		Short: "Extract entities from a phrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return printJSON(entity.ExtractFast(strings.Join(args, " ")))
		},
	}
}

func newDurationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "duration <phrase>",
		Short: "Parse a spoken duration into seconds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			phrase := strings.Join(args, " ")
			secs, ok := durparse.Parse(phrase)
			if !ok {
				return fmt.Errorf("could not parse %q as a duration", phrase)
			}
			fmt.Printf("%d seconds\n", secs)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
