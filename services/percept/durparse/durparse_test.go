// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package durparse

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"thirty minutes", 1800, true},
		{"2 hours", 7200, true},
		{"half an hour", 1800, true},
		{"half hour", 1800, true},
		{"an hour and a half", 5400, true},
		{"forty five minutes", 2700, true},
		{"five hours", 18000, true},
		{"twenty five minutes", 1500, true},
		{"an hour", 3600, true},
		{"a minute", 60, true},
		{"10 secs", 10, true},
		{"1 hr and 15 mins", 4500, true},
		{"ninety seconds", 90, true},
		{"blorp", 0, false},
		{"", 0, false},
		{"soon", 0, false},
		{"minutes", 0, false},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseCompoundTensRules(t *testing.T) {
	// "ten five minutes" is not a valid compound (tens must be >= 20).
	if _, ok := Parse("ten five minutes"); ok {
		t.Error("expected ten five to be rejected")
	}
	// "twenty fifty minutes" is not a valid compound (ones must be < 10).
	if _, ok := Parse("twenty fifty minutes"); ok {
		t.Error("expected twenty fifty to be rejected")
	}
}
