// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fuzzy provides the string-similarity ratio used by the entity
// resolver and the contact book for near-miss name matching.
//
// The ratio is the classic Ratcliff/Obershelp measure: twice the total
// length of all matching blocks divided by the combined length of both
// strings. 1.0 means identical, 0.0 means no common characters. The
// matching-block recursion mirrors difflib's SequenceMatcher, which is
// what transcription typos were originally tuned against ("Jhon" vs
// "John" ≈ 0.75, "Dave" vs "David" ≈ 0.89).
package fuzzy

import "strings"

// Ratio returns the similarity of a and b in [0,1]. Comparison is
// case-sensitive; callers normalize case first when matching names.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	matched := matchLen([]rune(a), []rune(b))
	return 2.0 * float64(matched) / float64(len([]rune(a))+len([]rune(b)))
}

// RatioFold is Ratio over lowercased inputs.
func RatioFold(a, b string) float64 {
	return Ratio(strings.ToLower(a), strings.ToLower(b))
}

// matchLen sums the lengths of all matching blocks: the longest common
// substring, then recursively the pieces to its left and right.
func matchLen(a, b []rune) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchLen(a[:ai], b[:bi])
	total += matchLen(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonBlock finds the longest common substring of a and b,
// returning its start in each plus its length. Quadratic, which is fine:
// inputs here are person and company names, not documents.
func longestCommonBlock(a, b []rune) (ai, bi, size int) {
	// prev[j] = length of common suffix of a[:i] and b[:j].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
