package pattern_test

import (
	"fmt"
	"testing"

	"github.com/MrWong99/attune/internal/pattern"
	"github.com/MrWong99/attune/pkg/types"
)

func vec(xs ...float64) types.FeatureVector { return types.FeatureVector(xs) }

func TestLearn_FIFOCap(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	for i := range 120 {
		s.Learn("door", vec(float64(i), 0, 0, 0, 0, 0, 0))
	}

	if got := s.Count("door"); got != pattern.DefaultCapacity {
		t.Fatalf("Count = %d, want %d", got, pattern.DefaultCapacity)
	}

	// Oldest entries are evicted: the buffer holds vectors 70..119.
	buf := s.Patterns("door")
	if buf[0][0] != 70 {
		t.Errorf("oldest surviving vector = %v, want first dimension 70", buf[0])
	}
	if buf[len(buf)-1][0] != 119 {
		t.Errorf("newest vector = %v, want first dimension 119", buf[len(buf)-1])
	}
}

func TestLearn_CopiesInput(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	v := vec(1, 2, 3)
	s.Learn("k", v)
	v[0] = 99

	if got := s.Patterns("k")[0][0]; got != 1 {
		t.Errorf("stored vector mutated through caller slice: got %v, want 1", got)
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	if m := s.Match(vec(1, 2, 3), nil); m != nil {
		t.Errorf("Match with no candidates = %+v, want nil", m)
	}
}

func TestMatch_EmptyCollections(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	cands := []pattern.Candidate{{Key: "never_learned", Threshold: 0.1}}
	if m := s.Match(vec(1, 2, 3), cands); m != nil {
		t.Errorf("Match against empty collection = %+v, want nil", m)
	}
}

func TestMatch_RespectsPerCandidateThreshold(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	s.Learn("strict", vec(1, 1, 1))
	s.Learn("lax", vec(5, 5, 5))

	probe := vec(1, 1, 1) // identical to "strict", far from "lax"

	m := s.Match(probe, []pattern.Candidate{
		{Key: "strict", Threshold: 0.99},
		{Key: "lax", Threshold: 0.01},
	})
	if m == nil {
		t.Fatal("Match = nil, want a match")
	}
	if m.Key != "strict" {
		t.Errorf("Match.Key = %q, want %q", m.Key, "strict")
	}
	if m.Score != 1 {
		t.Errorf("Match.Score = %v, want 1", m.Score)
	}

	// With an impossible threshold the identical vector no longer qualifies:
	// a score of exactly 1.0 does not exceed a 1.0 threshold.
	m = s.Match(probe, []pattern.Candidate{{Key: "strict", Threshold: 1.0}})
	if m != nil {
		t.Errorf("Match above threshold 1.0 = %+v, want nil", m)
	}
}

func TestMatch_HighestScoreWins(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	s.Learn("close", vec(1, 1, 1))
	s.Learn("closer", vec(1, 1, 1.1))

	probe := vec(1, 1, 1.1)
	m := s.Match(probe, []pattern.Candidate{
		{Key: "close", Threshold: 0.5},
		{Key: "closer", Threshold: 0.5},
	})
	if m == nil || m.Key != "closer" {
		t.Fatalf("Match = %+v, want key %q", m, "closer")
	}
}

func TestMatch_TieBreakFirstCandidate(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	s.Learn("alpha", vec(2, 2, 2))
	s.Learn("beta", vec(2, 2, 2))

	m := s.Match(vec(2, 2, 2), []pattern.Candidate{
		{Key: "beta", Threshold: 0.5},
		{Key: "alpha", Threshold: 0.5},
	})
	if m == nil || m.Key != "beta" {
		t.Fatalf("Match = %+v, want first-listed candidate %q on tie", m, "beta")
	}
}

func TestLearnAll_MigratesInOrder(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore(pattern.WithCapacity(3))
	vecs := []types.FeatureVector{vec(1), vec(2), vec(3), vec(4)}
	s.LearnAll("k", vecs)

	buf := s.Patterns("k")
	if len(buf) != 3 {
		t.Fatalf("Count = %d, want 3", len(buf))
	}
	for i, want := range []float64{2, 3, 4} {
		if buf[i][0] != want {
			t.Errorf("buf[%d] = %v, want %v", i, buf[i][0], want)
		}
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	s := pattern.NewStore()
	for i := range 3 {
		s.Learn(fmt.Sprintf("k%d", i), vec(float64(i)))
	}
	if got := len(s.Keys()); got != 3 {
		t.Errorf("len(Keys) = %d, want 3", got)
	}
}
