// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package aggregator

import (
	"strings"
	"unicode"
)

// stopwords suppresses particles that carry no topical signal. Small
// on purpose: a long list starts eating real keywords.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "after": {}, "over": {}, "new": {},
	"的": {}, "了": {}, "在": {}, "是": {}, "和": {}, "与": {},
	"将": {}, "被": {}, "对": {}, "为": {}, "有": {}, "等": {},
	"或": {}, "这": {}, "那": {}, "就": {}, "都": {}, "而": {},
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// tokenize splits text into lowercase terms. Latin-script runs split
// on non-letter boundaries; CJK runs emit overlapping bigrams, which
// cluster far better than single characters for headline-length text.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := make([]string, 0, 16)

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) >= 2 {
			w := string(word)
			if _, stop := stopwords[w]; !stop {
				tokens = append(tokens, w)
			}
		}
		word = word[:0]
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			c := string(cjk)
			if _, stop := stopwords[c]; !stop {
				tokens = append(tokens, c)
			}
		}
		for i := 0; i+1 < len(cjk); i++ {
			bg := string(cjk[i : i+2])
			if _, stop := stopwords[string(cjk[i])]; stop {
				continue
			}
			tokens = append(tokens, bg)
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// termCounts folds tokens into a frequency map.
func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// lcsRatio is the similarity fallback for degenerate token sets: the
// longest common subsequence of the two titles over the longer length.
func lcsRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	return float64(prev[len(rb)]) / float64(longer)
}
