// Package phonetic resolves loosely spelled names, such as a room a command
// detector reported, against a fixed vocabulary.
//
// A candidate qualifies phonetically when any of its words shares a Double
// Metaphone code with any word of the input; qualified candidates are ranked
// by Jaro-Winkler similarity and accepted above the phonetic threshold.
// Without a phonetic candidate a stricter pure Jaro-Winkler threshold applies.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a phonetic candidate.
// Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum score when no phonetic candidate
// exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

type entry struct {
	name    string
	lower   string
	compact string
	tokens  []string
	codes   map[string]struct{}
}

// Matcher matches input against a vocabulary fixed at construction. It is
// read-only afterwards and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	vocab             []entry
}

// New returns a matcher over vocabulary. Blank entries are ignored.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		lower := normalize(v)
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.vocab = append(m.vocab, entry{
			name:    v,
			lower:   lower,
			compact: strings.Join(tokens, ""),
			tokens:  tokens,
			codes:   codes(tokens),
		})
	}
	return m
}

// Match returns the vocabulary entry closest to word with its score. A match
// that is exact apart from case and spacing scores 1. When nothing qualifies
// it returns word unchanged, 0 and false.
func (m *Matcher) Match(word string) (string, float64, bool) {
	lower := normalize(word)
	if lower == "" {
		return word, 0, false
	}
	tokens := strings.Fields(lower)
	compact := strings.Join(tokens, "")
	for _, e := range m.vocab {
		if e.compact == compact {
			return e.name, 1, true
		}
	}

	in := codes(tokens)

	var (
		best      string
		bestScore float64
		phonetic  bool
	)
	for _, e := range m.vocab {
		score := similarity(tokens, e.tokens, lower, e.lower)
		switch {
		case overlap(in, e.codes):
			if score >= m.phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic = e.name, score, true
			}
		case !phonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				best, bestScore = e.name, score
			}
		}
	}
	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// normalize lower-cases s and treats separators as spaces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// codes collects the non-empty Double Metaphone codes of tokens.
func codes(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, 2*len(tokens))
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			set[p] = struct{}{}
		}
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// strings with spaces removed, and every token pair.
func similarity(inTokens, vTokens []string, in, v string) float64 {
	score := matchr.JaroWinkler(in, v, false)
	if len(inTokens) > 1 || len(vTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(vTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range inTokens {
		for _, b := range vTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
