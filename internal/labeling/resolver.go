// Package labeling resolves user-typed label names against the existing label
// set using Double Metaphone phonetic encoding combined with Jaro-Winkler
// string similarity.
//
// Labeling requests carry free text: a user naming a sound "dor slam" almost
// certainly means the existing "door_slam" label, and creating a near-duplicate
// label splits one sound's pattern history across two keys. The resolver runs
// in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and of each existing label. Labels sharing at
//     least one code with the input become phonetic candidates.
//  2. Jaro-Winkler ranking: phonetic candidates are ranked by Jaro-Winkler
//     similarity and accepted above the phonetic threshold (default 0.70).
//     With no phonetic candidate, a fallback pass accepts pure string
//     similarity above a stricter fuzzy threshold (default 0.85).
//
// Label names use snake_case, so underscores and hyphens are treated as token
// separators before encoding.
package labeling

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Resolver matches free-text label names to existing labels. Read-only after
// construction, safe for concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched label to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = threshold }
}

// NewResolver returns a new [Resolver] configured with the supplied options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve finds the existing label most similar to input. When matched is
// false, name equals input unchanged and confidence is 0, meaning the caller
// should create a new label rather than extend an existing one.
//
// An exact (case-insensitive, separator-insensitive) match always wins with
// confidence 1.
func (r *Resolver) Resolve(input string, existing []string) (name string, confidence float64, matched bool) {
	inputNorm := normalize(input)
	if inputNorm == "" || len(existing) == 0 {
		return input, 0, false
	}
	inputTokens := strings.Fields(inputNorm)
	inputCodes := codesFor(inputTokens)

	type candidate struct {
		label    string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, label := range existing {
		labelNorm := normalize(label)
		if labelNorm == "" {
			continue
		}
		if labelNorm == inputNorm {
			return label, 1, true
		}
		labelTokens := strings.Fields(labelNorm)

		phonetic := codesOverlap(inputCodes, codesFor(labelTokens))
		score := bestSimilarity(inputTokens, labelTokens, inputNorm, labelNorm)

		if phonetic {
			if score >= r.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{label: label, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= r.fuzzyThreshold && score > best.score {
			best = candidate{label: label, score: score, phonetic: false}
		}
	}

	if best.label != "" {
		return best.label, best.score, true
	}
	return input, 0, false
}

// Canonical converts free-form label text into the stored snake_case form,
// e.g. "Door Slam" becomes "door_slam". Returns the empty string for blank
// input.
func Canonical(s string) string {
	return strings.Join(strings.Fields(normalize(s)), "_")
}

// normalize lowercases the name and converts snake_case and kebab-case
// separators to spaces.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// codesFor returns the union of all Double Metaphone codes for the tokens.
// Empty codes are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between input and
// label across full strings, space-stripped strings, and the best pairwise
// token comparison.
func bestSimilarity(inputTokens, labelTokens []string, inputFull, labelFull string) float64 {
	score := matchr.JaroWinkler(inputFull, labelFull, false)

	if len(inputTokens) > 1 || len(labelTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(labelTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, lt := range labelTokens {
			if s := matchr.JaroWinkler(it, lt, false); s > score {
				score = s
			}
		}
	}
	return score
}
