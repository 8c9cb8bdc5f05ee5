// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent turns a flushed command transcript into a structured
// action. Tier 1 is a fixed ordered rule set that handles the common
// phrasings deterministically and offline; tier 2 escalates everything
// else to an external reasoner.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/GetPercept/percept/services/percept/contacts"
	"github.com/GetPercept/percept/services/percept/datatypes"
	"github.com/GetPercept/percept/services/percept/durparse"
)

const contextLimit = 500

// =============================================================================
// Tier-1 Patterns
// =============================================================================

// Patterns are matched against the lowercased command, anchored at the
// start, in category order: email, text, reminder, search, note, order,
// calendar. Note must precede order so "add that to my list" is not
// mistaken for shopping.
var (
	emailPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:send\s+an?\s+)?email\s+(?:to\s+)?(.+)`),
		regexp.MustCompile(`^shoot\s+an?\s+email\s+(?:to\s+)?(.+)`),
		regexp.MustCompile(`^send\s+a\s+message\s+to\s+(.+?)\s+via\s+email(?:\s+(.*))?$`),
		regexp.MustCompile(`^email\s+(\S+)\s+about\s+(.+)`),
	}

	textPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:send\s+(?:me\s+)?a?\s*)?(?:text|message)\s+(?:to\s+)?(.+)`),
		regexp.MustCompile(`^(?:text|message)\s+(?:me\s+)?(?:saying|that)\s+(.+)`),
		regexp.MustCompile(`^shoot\s+(\S+)\s+a\s+text(?:\s+(.*))?$`),
		regexp.MustCompile(`^let\s+(\S+)\s+know\s+(?:that\s+)?(.+)`),
		regexp.MustCompile(`^tell\s+(.+)`),
	}

	reminderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:set\s+a\s+)?remind(?:er)?\s*(?:me\s+)?(?:in\s+(.+?)\s+to\s+(.+)|to\s+(.+)|(.+))`),
		regexp.MustCompile(`^follow\s+up\s+with\s+(.+?)(?:\s+in\s+(.+))?$`),
		regexp.MustCompile(`^(?:don'?t\s+forget|make\s+sure\s+(?:i|we))\s+(?:to\s+)?(.+)`),
		regexp.MustCompile(`^can\s+you\s+remind\s+(?:me\s+)?(?:to\s+)?(.+)`),
	}

	searchPattern = regexp.MustCompile(`^(?:look\s+up|search\s+(?:for\s+)?|find\s+out\s+|research\s+|what\s+is\s+|what\s+are\s+|who\s+is\s+|look\s+into\s+)(.+)`)

	notePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:remember|note|make\s+a\s+note|save\s+this)\s*(?:that\s+)?(.+)?`),
		regexp.MustCompile(`^(?:write\s+that\s+down|jot\s+(?:that\s+)?down|save\s+that)(?:\s*[:\-]\s*(.+))?`),
		regexp.MustCompile(`^add\s+(?:that\s+)?to\s+my\s+(?:notes?|list)(?:\s*[:\-]\s*(.+))?`),
	}

	shoppingPattern = regexp.MustCompile(`^add\s+(.+?)\s+to\s+(?:the\s+)?shopping\s+list`)
	orderPattern    = regexp.MustCompile(`^(?:order|buy)\s+(.+?)(?:\s+from\s+(.+?))?(?:\s+for\s+(pickup|delivery))?$`)

	calendarPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:schedule|book)\s+(?:a\s+)?(.+?)(?:\s+with\s+(.+?))?(?:\s+(?:on|at|for)\s+(.+))?$`),
		regexp.MustCompile(`^set\s+up\s+(?:a\s+)?meeting\s+with\s+(.+?)(?:\s+(?:on|at|for)\s+(.+))?$`),
		regexp.MustCompile(`^(?:put|add)\s+(?:that\s+|the\s+)?(.+?)\s+(?:on|to)\s+(?:my\s+)?calendar(?:\s+(?:for|on|at)\s+(.+))?`),
		regexp.MustCompile(`^book\s+(?:a\s+)?time\s+(?:for|to)\s+(.+?)(?:\s+(?:on|at|for)\s+(.+))?$`),
		regexp.MustCompile(`^calendar\s+(.+)`),
	}

	emailBodySplit = regexp.MustCompile(`\s+(?:saying|about|that says|with message|with body)\s+`)
	textBodySplit  = regexp.MustCompile(`\s+(?:saying|that)\s+`)
	tellBodySplit  = regexp.MustCompile(`\s+(?:to|that)\s+`)

	digitTimeSuffix  = regexp.MustCompile(`\b(?:in\s+)(\d+\s*(?:minutes?|mins?|hours?|hrs?|seconds?|secs?))\b`)
	spokenTimeSuffix = regexp.MustCompile(`\b(?:in\s+)((?:(?:one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty|sixty|seventy|eighty|ninety|forty five|an?|half)\s*)+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?)\b`)

	emailAddr     = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+?1?[-\s]?\(?(\d{3})\)?[-\s]?(\d{3})[-\s]?(\d{4})`),
		regexp.MustCompile(`\+\d{1,3}[-\s]?\d{3,14}`),
	}

	spokenDot = regexp.MustCompile(`\s+dot\s+`)
	spokenAt  = regexp.MustCompile(`\s+at\s+`)
	spokenTLD = []struct {
		re  *regexp.Regexp
		rep string
	}{
		{regexp.MustCompile(`\s+dot\s+com\b`), ".com"},
		{regexp.MustCompile(`\s+dot\s+org\b`), ".org"},
		{regexp.MustCompile(`\s+dot\s+net\b`), ".net"},
		{regexp.MustCompile(`\s+dot\s+io\b`), ".io"},
		{regexp.MustCompile(`\s+dot\s+dev\b`), ".dev"},
	}
)

// Rules is the tier-1 matcher. The contact book resolves recipient names
// to handles; self-directed recipients ("text me ...") map to SelfName.
//
// Thread Safety: Safe for concurrent use.
type Rules struct {
	book     contacts.Book
	selfName string
}

// NewRules creates a Rules matcher. book may be nil, in which case
// recipients pass through unresolved. selfName is the contact name "me"
// resolves to; empty leaves "me" as-is.
func NewRules(book contacts.Book, selfName string) *Rules {
	return &Rules{book: book, selfName: selfName}
}

// Parse runs the ordered rule set over text. contextText is the recent
// conversation used to backfill an omitted body. Returns nil when no rule
// matches; a non-nil result always carries confidence 1.0.
func (r *Rules) Parse(ctx context.Context, text, contextText string) *datatypes.ActionRequest {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if cmd == "" {
		return nil
	}

	for _, pat := range emailPatterns {
		if m := pat.FindStringSubmatch(cmd); m != nil {
			return r.parseEmail(ctx, m, text, contextText)
		}
	}
	for i, pat := range textPatterns {
		if m := pat.FindStringSubmatch(cmd); m != nil {
			return r.parseText(ctx, m, i, text, contextText)
		}
	}
	for i, pat := range reminderPatterns {
		if m := pat.FindStringSubmatch(cmd); m != nil {
			return r.parseReminder(m, i, text)
		}
	}
	if m := searchPattern.FindStringSubmatch(cmd); m != nil {
		return result(datatypes.IntentSearch, map[string]any{
			"query":   strings.TrimSpace(m[1]),
			"context": clip(contextText, contextLimit),
		}, text)
	}
	for _, pat := range notePatterns {
		if m := pat.FindStringSubmatch(cmd); m != nil {
			content := firstGroup(m)
			if content == "" {
				content = contextText
			}
			return result(datatypes.IntentNote, map[string]any{
				"content": content,
				"context": clip(contextText, contextLimit),
			}, text)
		}
	}
	if m := shoppingPattern.FindStringSubmatch(cmd); m != nil {
		return result(datatypes.IntentOrder, map[string]any{
			"item": strings.TrimSpace(m[1]), "store": "", "method": "",
			"context": clip(contextText, contextLimit),
		}, text)
	}
	if m := orderPattern.FindStringSubmatch(cmd); m != nil {
		return result(datatypes.IntentOrder, map[string]any{
			"item":    strings.TrimSpace(m[1]),
			"store":   strings.TrimSpace(m[2]),
			"method":  strings.TrimSpace(m[3]),
			"context": clip(contextText, contextLimit),
		}, text)
	}
	for i, pat := range calendarPatterns {
		if m := pat.FindStringSubmatch(cmd); m != nil {
			return parseCalendar(m, i, text)
		}
	}
	return nil
}

// =============================================================================
// Category Parsers
// =============================================================================

func (r *Rules) parseEmail(ctx context.Context, m []string, raw, contextText string) *datatypes.ActionRequest {
	rest := strings.TrimSpace(m[1])
	var recipient, body string
	if len(m) > 2 && strings.TrimSpace(m[2]) != "" {
		recipient = rest
		body = strings.TrimSpace(m[2])
	} else {
		parts := emailBodySplit.Split(rest, 2)
		recipient = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			body = strings.TrimSpace(parts[1])
		}
	}

	to := r.lookup(ctx, recipient, contacts.KindEmail)
	if to == "" {
		normalized := normalizeSpokenEmail(recipient)
		if strings.Contains(normalized, "@") {
			to = extractCleanEmail(normalized)
		} else {
			to = extractCleanEmail(recipient)
		}
	}

	subject := clip(body, 50)
	if body == "" {
		body = contextText
	}
	return result(datatypes.IntentEmail, map[string]any{
		"to": to, "subject": subject, "body": body,
	}, raw)
}

func (r *Rules) parseText(ctx context.Context, m []string, patternIdx int, raw, contextText string) *datatypes.ActionRequest {
	rest := strings.TrimSpace(m[1])
	var recipient, message string

	switch {
	case len(m) > 2 && strings.TrimSpace(m[2]) != "":
		// "shoot X a text Y" / "let X know Y"
		recipient = rest
		message = strings.TrimSpace(m[2])
	default:
		parts := textBodySplit.Split(rest, 2)
		if len(parts) == 1 && patternIdx == 4 {
			// "tell X to Y"
			parts = tellBodySplit.Split(rest, 2)
		}
		if len(parts) > 1 {
			recipient = strings.TrimSpace(parts[0])
			message = strings.TrimSpace(parts[1])
		} else {
			// No separator. "text david the demo is working" splits on
			// the first word when it resolves as a contact.
			words := strings.Fields(rest)
			if len(words) >= 2 && r.lookup(ctx, words[0], contacts.KindPhone) != "" {
				recipient = words[0]
				message = strings.Join(words[1:], " ")
			} else {
				recipient = rest
			}
		}
	}

	switch strings.ToLower(recipient) {
	case "me", "me a text", "myself":
		if r.selfName != "" {
			recipient = r.selfName
		}
	}

	to := r.lookup(ctx, recipient, contacts.KindPhone)
	if to == "" {
		to = extractCleanPhone(recipient)
	}
	if message == "" {
		message = contextText
	}
	return result(datatypes.IntentText, map[string]any{
		"to": to, "message": message,
	}, raw)
}

func (r *Rules) parseReminder(m []string, patternIdx int, raw string) *datatypes.ActionRequest {
	var task, when string
	switch patternIdx {
	case 0:
		when = strings.TrimSpace(m[1])
		task = strings.TrimSpace(firstNonEmpty(m[2], m[3], m[4]))
	case 1:
		task = "follow up with " + strings.TrimSpace(m[1])
		if len(m) > 2 {
			when = strings.TrimSpace(m[2])
		}
	default:
		task = strings.TrimSpace(m[1])
	}

	// Trailing duration inside the task: "do X in thirty minutes".
	if when == "" {
		if loc := digitTimeSuffix.FindStringSubmatchIndex(task); loc != nil {
			when = task[loc[2]:loc[3]]
			task = strings.TrimRight(strings.TrimSpace(task[:loc[0]]), ".,")
		}
	}
	if when == "" {
		if loc := spokenTimeSuffix.FindStringSubmatchIndex(task); loc != nil {
			when = strings.TrimSpace(task[loc[2]:loc[3]]) + " " + task[loc[4]:loc[5]]
			task = strings.TrimRight(strings.TrimSpace(task[:loc[0]]), ".,")
		}
	}

	params := map[string]any{"task": task, "when": when}
	if when != "" {
		if secs, ok := durparse.Parse(when); ok {
			params["when_seconds"] = secs
		}
	}
	return result(datatypes.IntentReminder, params, raw)
}

func parseCalendar(m []string, patternIdx int, raw string) *datatypes.ActionRequest {
	var event, with, when string
	switch patternIdx {
	case 1: // set up a meeting with X
		with = strings.TrimSpace(m[1])
		event = "meeting with " + with
		when = strings.TrimSpace(m[2])
	case 2, 3: // put X on my calendar / book a time for X
		event = strings.TrimSpace(m[1])
		when = strings.TrimSpace(m[2])
	case 4: // calendar X
		event = strings.TrimSpace(m[1])
	default: // schedule X [with Y] [on Z]
		event = strings.TrimSpace(m[1])
		with = strings.TrimSpace(m[2])
		when = strings.TrimSpace(m[3])
	}
	return result(datatypes.IntentCalendar, map[string]any{
		"event": event, "with": with, "when": when,
	}, raw)
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Rules) lookup(ctx context.Context, name, kind string) string {
	if r.book == nil || name == "" {
		return ""
	}
	handle, ok := r.book.Lookup(ctx, name, kind)
	if !ok {
		return ""
	}
	return handle
}

func result(intent string, params map[string]any, raw string) *datatypes.ActionRequest {
	return &datatypes.ActionRequest{
		ID:         uuid.NewString(),
		Intent:     intent,
		Params:     params,
		RawText:    raw,
		Confidence: 1.0,
		Source:     datatypes.SourceTier1,
	}
}

// normalizeSpokenEmail converts "jane at example dot com" into
// "jane@example.com".
func normalizeSpokenEmail(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, s := range spokenTLD {
		t = s.re.ReplaceAllString(t, s.rep)
	}
	t = spokenDot.ReplaceAllString(t, ".")
	t = spokenAt.ReplaceAllString(t, "@")
	return t
}

func extractCleanEmail(text string) string {
	if m := emailAddr.FindString(text); m != "" {
		return m
	}
	return strings.TrimSpace(text)
}

func extractCleanPhone(text string) string {
	for _, pat := range phonePatterns {
		if m := pat.FindString(text); m != "" {
			return m
		}
	}
	return strings.TrimSpace(text)
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if s := strings.TrimSpace(g); s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
