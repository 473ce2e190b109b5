// Package pattern maintains bounded rolling collections of reference feature
// vectors, one per label name or person ID.
//
// Each collection is a FIFO buffer capped at [DefaultCapacity] entries:
// learning a new vector beyond the cap evicts the oldest. This bounds memory
// and lets the match set drift with recent acoustic conditions instead of
// being dominated by stale samples.
//
// The store serialises all access internally, but callers that need
// frame-ordering guarantees (FIFO eviction is order-sensitive) must still
// funnel mutations through a single writer — the detection session does this.
package pattern

import (
	"sync"

	"github.com/MrWong99/attune/internal/similarity"
	"github.com/MrWong99/attune/pkg/types"
)

// DefaultCapacity is the per-key cap on stored reference vectors.
const DefaultCapacity = 50

// Candidate names one matchable key together with its configured confidence
// threshold. Candidate order is significant: ties are broken in favour of the
// first-encountered candidate.
type Candidate struct {
	// Key is the label name or person ID to score against.
	Key string

	// Threshold is the minimum similarity score (exclusive) for this
	// candidate to be considered a match.
	Threshold float64
}

// Match is the result of a successful [Store.Match] call.
type Match struct {
	// Key is the winning candidate's key.
	Key string

	// Score is the similarity score of the winning candidate.
	Score float64
}

// Store holds the per-key pattern collections. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	patterns map[string][]types.FeatureVector
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithCapacity overrides the per-key FIFO cap. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.capacity = n
		}
	}
}

// NewStore creates an empty pattern store with the default capacity.
func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		patterns: make(map[string][]types.FeatureVector),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Learn appends vec to the collection for key, evicting the oldest entry once
// the cap is exceeded. The vector is copied; the caller keeps ownership of
// its slice.
func (s *Store) Learn(key string, vec types.FeatureVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learnLocked(key, vec)
}

// LearnAll appends every vector in vecs under key, in order. Used by cluster
// promotion to migrate buffered history into a label's collection as one
// atomic unit.
func (s *Store) LearnAll(key string, vecs []types.FeatureVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vecs {
		s.learnLocked(key, v)
	}
}

func (s *Store) learnLocked(key string, vec types.FeatureVector) {
	buf := append(s.patterns[key], vec.Clone())
	if len(buf) > s.capacity {
		buf = buf[len(buf)-s.capacity:]
	}
	s.patterns[key] = buf
}

// Match scores vec against each candidate's collection and returns the
// highest-scoring candidate whose score exceeds that candidate's threshold.
// Ties are broken by first-encountered candidate order. Returns nil when no
// candidate qualifies — a normal outcome, not an error.
func (s *Store) Match(vec types.FeatureVector, candidates []Candidate) *Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Match
	for _, c := range candidates {
		refs := s.patterns[c.Key]
		if len(refs) == 0 {
			continue
		}
		score := similarity.Score(vec, refs)
		if score <= c.Threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Key: c.Key, Score: score}
		}
	}
	return best
}

// Patterns returns a copy of the collection stored under key. The returned
// slice and its vectors are safe for the caller to retain.
func (s *Store) Patterns(key string) []types.FeatureVector {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.patterns[key]
	out := make([]types.FeatureVector, len(buf))
	for i, v := range buf {
		out[i] = v.Clone()
	}
	return out
}

// Count returns the number of vectors stored under key.
func (s *Store) Count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns[key])
}

// Keys returns all keys that currently hold at least one vector.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.patterns))
	for k, buf := range s.patterns {
		if len(buf) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}
