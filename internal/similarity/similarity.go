// Package similarity scores feature vectors against reference sets.
//
// The metric is deliberately simple and bounded: per-dimension similarity is
// 1/(1+|difference|), which lands in (0,1] and stays robust to outliers
// without requiring the vectors to be normalised first. Scores are averaged
// per reference vector and then across the reference set, so a single
// unusual reference cannot dominate the result.
package similarity

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/attune/pkg/types"
)

// warnDimensionMismatch logs once per process when reference vectors of the
// wrong dimensionality are encountered. Mismatches are a programming error of
// the caller; they are skipped, never fatal on the per-frame path.
var warnDimensionMismatch sync.Once

// Vectors returns the similarity of two equal-length vectors in [0,1].
// Returns 0 when the lengths differ or either vector is empty.
func Vectors(a, b types.FeatureVector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		sum += 1 / (1 + diff)
	}
	return clamp01(sum / float64(len(a)))
}

// Score returns the bounded similarity in [0,1] between vec and a reference
// set. Reference vectors of mismatched dimensionality are skipped; an empty
// or fully-skipped reference set yields 0.
func Score(vec types.FeatureVector, refs []types.FeatureVector) float64 {
	if len(vec) == 0 || len(refs) == 0 {
		return 0
	}

	var sum float64
	var counted int
	for _, ref := range refs {
		if len(ref) != len(vec) {
			warnDimensionMismatch.Do(func() {
				slog.Warn("similarity: skipping reference vector with mismatched dimensionality",
					"got", len(ref),
					"want", len(vec),
				)
			})
			continue
		}
		sum += Vectors(vec, ref)
		counted++
	}
	if counted == 0 {
		return 0
	}
	return clamp01(sum / float64(counted))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
