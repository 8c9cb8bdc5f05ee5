// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import "strings"

// StripWakePrefix removes everything up to and including the first wake
// phrase, plus any leading filler punctuation, leaving the bare command.
// "hey jarvis, remind me to call mom" becomes "remind me to call mom".
// Text without a wake phrase comes back trimmed but otherwise untouched.
// Phrases must be lowercased.
func StripWakePrefix(text string, phrases []string) string {
	lower := strings.ToLower(text)
	best := -1
	bestEnd := 0
	for _, p := range phrases {
		if p == "" {
			continue
		}
		idx := strings.Index(lower, p)
		if idx < 0 {
			continue
		}
		if best == -1 || idx < best {
			best = idx
			bestEnd = idx + len(p)
		}
	}
	if best == -1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimLeft(strings.TrimSpace(text[bestEnd:]), ",.!? ")
}
