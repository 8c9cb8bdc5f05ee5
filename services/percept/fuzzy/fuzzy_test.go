// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fuzzy

import "testing"

func TestRatioIdentical(t *testing.T) {
	if got := Ratio("david", "david"); got != 1.0 {
		t.Errorf("Ratio(identical) = %f, want 1.0", got)
	}
}

func TestRatioEmpty(t *testing.T) {
	if got := Ratio("", ""); got != 1.0 {
		t.Errorf("Ratio(empty, empty) = %f, want 1.0", got)
	}
	if got := Ratio("david", ""); got != 0.0 {
		t.Errorf("Ratio(x, empty) = %f, want 0.0", got)
	}
}

func TestRatioNearMiss(t *testing.T) {
	// Transcription-typo territory: these must clear the resolver's 0.85 bar.
	cases := []struct{ a, b string }{
		{"davd", "david"},
		{"sara", "sarah"},
		{"micheal", "michael"},
	}
	for _, tc := range cases {
		if got := Ratio(tc.a, tc.b); got < 0.85 {
			t.Errorf("Ratio(%q, %q) = %f, want >= 0.85", tc.a, tc.b, got)
		}
	}
}

func TestRatioDisjoint(t *testing.T) {
	if got := Ratio("abc", "xyz"); got != 0.0 {
		t.Errorf("Ratio(disjoint) = %f, want 0.0", got)
	}
}

func TestRatioFold(t *testing.T) {
	if got := RatioFold("DAVID", "david"); got != 1.0 {
		t.Errorf("RatioFold = %f, want 1.0", got)
	}
}

func TestRatioSymmetric(t *testing.T) {
	if Ratio("david", "dave") != Ratio("dave", "david") {
		t.Error("Ratio is not symmetric")
	}
}
