package similarity_test

import (
	"math"
	"testing"

	"github.com/MrWong99/attune/internal/similarity"
	"github.com/MrWong99/attune/pkg/types"
)

func vec(xs ...float64) types.FeatureVector { return types.FeatureVector(xs) }

func TestVectors_IdenticalIsOne(t *testing.T) {
	t.Parallel()

	v := vec(0.5, 0.1, 120, 0.85, 0.3, 0.05, 0.9)
	if got := similarity.Vectors(v, v.Clone()); got != 1 {
		t.Errorf("Vectors(v, v) = %v, want 1", got)
	}
}

func TestVectors_Symmetric(t *testing.T) {
	t.Parallel()

	a := vec(0.5, 0.1, 120, 0.85, 0.3, 0.05, 0.9)
	b := vec(0.2, 0.4, 80, 0.6, 0.1, 0.02, 0.5)
	if ab, ba := similarity.Vectors(a, b), similarity.Vectors(b, a); ab != ba {
		t.Errorf("Vectors not symmetric: %v vs %v", ab, ba)
	}
}

func TestVectors_Bounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b types.FeatureVector
	}{
		{"large difference", vec(0, 0, 0, 0, 0, 0, 0), vec(1e6, 1e6, 1e6, 1e6, 1e6, 1e6, 1e6)},
		{"negative values", vec(-5, -5, -5, -5, -5, -5, -5), vec(5, 5, 5, 5, 5, 5, 5)},
		{"near identical", vec(1, 1, 1, 1, 1, 1, 1), vec(1, 1, 1, 1, 1, 1, 1.0001)},
	}
	for _, tt := range tests {
		got := similarity.Vectors(tt.a, tt.b)
		if got < 0 || got > 1 {
			t.Errorf("%s: Vectors = %v, want within [0,1]", tt.name, got)
		}
	}
}

func TestVectors_LengthMismatch(t *testing.T) {
	t.Parallel()

	if got := similarity.Vectors(vec(1, 2), vec(1, 2, 3)); got != 0 {
		t.Errorf("mismatched lengths: got %v, want 0", got)
	}
	if got := similarity.Vectors(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %v, want 0", got)
	}
}

func TestScore_EmptyReferenceSet(t *testing.T) {
	t.Parallel()

	if got := similarity.Score(vec(1, 2, 3), nil); got != 0 {
		t.Errorf("empty refs: got %v, want 0", got)
	}
}

func TestScore_SkipsMismatchedReferences(t *testing.T) {
	t.Parallel()

	v := vec(1, 2, 3)
	refs := []types.FeatureVector{
		vec(1, 2),       // skipped
		vec(1, 2, 3),    // exact match
		vec(1, 2, 3, 4), // skipped
	}
	if got := similarity.Score(v, refs); got != 1 {
		t.Errorf("Score = %v, want 1 (only the exact-length reference counts)", got)
	}

	onlyMismatched := []types.FeatureVector{vec(1), vec(1, 2, 3, 4)}
	if got := similarity.Score(v, onlyMismatched); got != 0 {
		t.Errorf("Score with only mismatched refs = %v, want 0", got)
	}
}

func TestScore_AveragesAcrossReferences(t *testing.T) {
	t.Parallel()

	v := vec(0, 0)
	refs := []types.FeatureVector{
		vec(0, 0), // similarity 1
		vec(1, 1), // similarity 0.5 per dimension
	}
	want := (1.0 + 0.5) / 2
	if got := similarity.Score(v, refs); math.Abs(got-want) > 1e-12 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestScore_SilentFrameAgainstRealPatterns(t *testing.T) {
	t.Parallel()

	zero := make(types.FeatureVector, types.FeatureDimensions)
	refs := []types.FeatureVector{
		vec(0.5, 0.1, 120, 0.85, 0.3, 0.05, 0.9),
		vec(0.4, 0.2, 100, 0.8, 0.25, 0.04, 0.8),
	}
	got := similarity.Score(zero, refs)
	if got >= 1 {
		t.Errorf("silent frame vs non-trivial patterns: Score = %v, want < 1", got)
	}
	if got < 0 {
		t.Errorf("Score = %v, want >= 0", got)
	}
}
