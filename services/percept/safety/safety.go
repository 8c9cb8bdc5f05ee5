// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety blocks dangerous voice commands before they reach an
// executor. Classification is pure pattern matching over the transcript
// and the parsed parameters; no network calls, no state.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var safetyBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "percept",
	Subsystem: "safety",
	Name:      "blocked_total",
	Help:      "Commands blocked by category",
}, []string{"category"})

// Safety levels.
const (
	LevelSafe    = "safe"
	LevelBlocked = "blocked"
)

// Categories of dangerous commands.
const (
	CategoryExfiltration     = "exfiltration"
	CategoryCredentialAccess = "credential_access"
	CategoryNetworkChange    = "network_change"
	CategoryDestructive      = "destructive_command"
	CategoryInfoLeak         = "info_leak"
)

// Result is the outcome of classifying one command.
type Result struct {
	Level    string `json:"level"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
	Matched  string `json:"matched_pattern,omitempty"`
}

// Blocked reports whether the command must not be executed.
func (r Result) Blocked() bool { return r.Level == LevelBlocked }

type rule struct {
	category string
	re       *regexp.Regexp
}

// =============================================================================
// Dangerous Patterns
// =============================================================================

var (
	// fetchURL matches a download/request tool followed by a URL; the
	// host is checked separately since RE2 has no lookahead to exempt
	// private addresses inline.
	fetchURL = regexp.MustCompile(`\b(curl|wget|fetch|httpie|http)\b.*\bhttps?://(\S+)`)

	privateHost = regexp.MustCompile(`^(localhost|127\.0\.0\.1|192\.168\.|10\.|172\.(1[6-9]|2\d|3[01])\.)`)

	rules = compileRules(map[string][]string{
		CategoryExfiltration: {
			`\bsend\b.*\b(credentials?|api.?keys?|secrets?|tokens?|passwords?)\b.*\b(to|via|through)\b`,
			`\b(upload|post|push|exfiltrate)\b.*\b(credentials?|api.?keys?|secrets?|env|\.env)\b`,
			`\b(curl|wget|fetch)\b.*\b(webhook|ngrok|requestbin|pipedream|burp)`,
		},
		CategoryCredentialAccess: {
			`\bread\b.*\b(\.env|\.aws|credentials|api.?key|secret|token|password)\b`,
			`\bcat\b.*\b(\.env|/etc/passwd|/etc/shadow|\.ssh/|id_rsa|\.aws/credentials)`,
			`\bprint\b.*\b(env|environ|os\.environ|api.?key|secret)`,
			`\b(show|display|list|dump|echo)\b.*\b(\$\w*PASSWORD|\$\w*SECRET|\$\w*KEY|\$\w*TOKEN)`,
			`\benv\b.*\bvars?\b.*\b(send|email|text|post)\b`,
			`\b(api.?key|secret.?key|access.?token|private.?key)\b.*\b(send|email|text|post|curl)\b`,
			`\b(send|email|text|post)\b.*\b(api.?keys?|credentials?|secrets?)\b`,
			`\b(dump|export)\b.*\b(env|environ|variables?|credentials?)\b.*\b(send|email|text|post)\b`,
			`\bcat\b.*\.env\b`,
			`\bread\b.*/etc/(passwd|shadow)\b`,
			`\bcat\b.*(id_rsa|\.ssh)`,
		},
		CategoryNetworkChange: {
			`\b(sshd_config|authorized_keys)\b`,
			`\b(modify|change|edit|add|write|append)\b.*\b(sshd|sshd_config|authorized_keys)\b`,
			`\b(open|enable|allow|expose)\b.*\bport\b`,
			`\b(iptables|ufw|firewall)\b.*\b(disable|allow|open|delete|flush)\b`,
			`\bchmod\s+777\b`,
			`\b(netcat|nc|ncat)\b.*\b(-l|listen)\b`,
			`\breverse.?shell\b`,
		},
		CategoryDestructive: {
			`\brm\s+(-rf?|--recursive)\s+/`,
			`\brm\s+-rf?\s+~`,
			`\bdd\b.*\bif=.*\bof=\s*/dev/`,
			`\bmkfs\b`,
			`\bformat\b.*\b(disk|drive|volume|partition)\b`,
			`\b(shutdown|reboot|halt|poweroff)\b`,
			`\bkill\s+-9\s+1\b`,
			`\b:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`, // fork bomb
		},
		CategoryInfoLeak: {
			`\b(email|text|send|message)\b.*\b(system.?info|hostname|ifconfig|ip.?addr|whoami|uname)\b`,
			`\b(whoami|hostname|ifconfig|ip\s+addr)\b.*\b(email|text|send|curl|post)\b`,
		},
	})

	// Informational phrasings that legitimately contain dangerous
	// keywords ("search for what rm -rf does"). These downgrade every
	// category except exfiltration and destructive commands.
	safeContext = []*regexp.Regexp{
		regexp.MustCompile(`\b(search|look\s+up|research|what\s+is|tutorial|learn|how\s+to|article|guide)\b`),
		regexp.MustCompile(`\b(definition|explain|meaning)\b`),
	}
)

func compileRules(byCategory map[string][]string) []rule {
	// Fixed order keeps the first-match category deterministic.
	order := []string{
		CategoryExfiltration,
		CategoryCredentialAccess,
		CategoryNetworkChange,
		CategoryDestructive,
		CategoryInfoLeak,
	}
	var out []rule
	for _, cat := range order {
		for _, p := range byCategory[cat] {
			out = append(out, rule{category: cat, re: regexp.MustCompile(`(?i)` + p)})
		}
	}
	return out
}

// =============================================================================
// Classification
// =============================================================================

// Classify judges the safety of a command. transcript is the raw command
// text; params are the parsed intent parameters, whose values are matched
// too so an injection hiding in a message body is still caught.
func Classify(transcript string, params map[string]any) Result {
	text := strings.ToLower(strings.TrimSpace(transcript))

	var sb strings.Builder
	sb.WriteString(text)
	for _, v := range params {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(fmt.Sprint(v)))
	}
	combined := sb.String()

	informational := false
	for _, re := range safeContext {
		if re.MatchString(text) {
			informational = true
			break
		}
	}

	if cat, matched, ok := externalFetch(combined); ok {
		return blocked(cat, matched)
	}
	for _, r := range rules {
		if !r.re.MatchString(combined) {
			continue
		}
		if informational && r.category != CategoryExfiltration && r.category != CategoryDestructive {
			continue
		}
		return blocked(r.category, r.re.String())
	}
	return Result{Level: LevelSafe}
}

// externalFetch flags a fetch tool pointed at a non-private URL. Always
// blocks, informational phrasing included.
func externalFetch(combined string) (category, matched string, ok bool) {
	m := fetchURL.FindStringSubmatch(combined)
	if m == nil {
		return "", "", false
	}
	if privateHost.MatchString(m[2]) {
		return "", "", false
	}
	return CategoryExfiltration, fetchURL.String(), true
}

func blocked(category, pattern string) Result {
	safetyBlocked.WithLabelValues(category).Inc()
	if len(pattern) > 100 {
		pattern = pattern[:100]
	}
	return Result{
		Level:    LevelBlocked,
		Reason:   "dangerous command detected: " + category,
		Category: category,
		Matched:  pattern,
	}
}
