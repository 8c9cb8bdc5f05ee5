// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package entity extracts surface-form entities from conversation text
// and resolves them to known people, contacts, and projects with a chain
// of strategies of decreasing precision.
package entity

import (
	"regexp"
	"strings"

	"github.com/GetPercept/percept/services/percept/datatypes"
)

// =============================================================================
// Fast Pass
// =============================================================================

var (
	emailPattern   = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`)
	phonePattern   = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern = regexp.MustCompile(`@(\w+)`)

	datePatterns = []struct {
		re   *regexp.Regexp
		conf float64
	}{
		{regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(next|this|last)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), 0.85},
		{regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\s+\d{1,2}(?:st|nd|rd|th)?\b`), 0.85},
		{regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`), 0.7},
	}

	titledPerson = regexp.MustCompile(`\b(?:Mr\.?|Mrs\.?|Ms\.?|Dr\.?)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	orgSuffix    = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\s+(?:Inc\.?|Corp\.?|LLC|Ltd\.?|Co\.?)\b`)
	capitalized  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`)
)

// knownProducts are multi-word product names that would otherwise be
// misread as person names by the capitalized-phrase pass.
var knownProducts = map[string]bool{
	"apple watch": true, "apple tv": true, "apple music": true, "apple pay": true,
	"google maps": true, "google drive": true, "google cloud": true, "google home": true,
	"amazon echo": true, "amazon alexa": true, "mac mini": true, "mac pro": true,
	"microsoft teams": true, "visual studio": true, "open ai": true, "chat gpt": true,
	"omi pendant": true, "omi device": true,
}

// ExtractFast runs the rule-based extraction pass over text. Each entity
// carries a fixed per-pattern confidence and a short surrounding context
// window. The pass is pure and allocation-cheap; it runs on every flush.
func ExtractFast(text string) []datatypes.ExtractedEntity {
	var out []datatypes.ExtractedEntity
	add := func(typ, name string, conf float64, start, end int) {
		out = append(out, datatypes.ExtractedEntity{
			Type:       typ,
			Name:       name,
			Confidence: conf,
			Context:    window(text, start, end),
			Resolution: datatypes.ResolutionUnresolved,
		})
	}

	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		add(datatypes.EntityEmail, text[loc[0]:loc[1]], 0.95, loc[0], loc[1])
	}
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		add(datatypes.EntityPhone, text[loc[0]:loc[1]], 0.9, loc[0], loc[1])
	}
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		add(datatypes.EntityURL, text[loc[0]:loc[1]], 0.95, loc[0], loc[1])
	}
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		add(datatypes.EntityMention, text[loc[2]:loc[3]], 0.85, loc[0], loc[1])
	}
	for _, dp := range datePatterns {
		for _, loc := range dp.re.FindAllStringIndex(text, -1) {
			add(datatypes.EntityDate, text[loc[0]:loc[1]], dp.conf, loc[0], loc[1])
		}
	}
	for _, loc := range titledPerson.FindAllStringSubmatchIndex(text, -1) {
		add(datatypes.EntityPerson, text[loc[2]:loc[3]], 0.85, loc[0], loc[1])
	}
	for _, loc := range orgSuffix.FindAllStringIndex(text, -1) {
		add(datatypes.EntityOrg, text[loc[0]:loc[1]], 0.8, loc[0], loc[1])
	}

	// Generic capitalized phrases last, skipping anything already found.
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		seen[e.Name] = true
	}
	for _, loc := range capitalized.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		if seen[name] {
			continue
		}
		seen[name] = true
		if knownProducts[strings.ToLower(name)] {
			add(datatypes.EntityProduct, name, 0.7, loc[0], loc[1])
		} else {
			add(datatypes.EntityPerson, name, 0.6, loc[0], loc[1])
		}
	}
	return out
}

func window(text string, start, end int) string {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	hi := end + 20
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}
