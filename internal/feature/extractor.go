// Package feature converts raw PCM audio frames into fixed-length feature
// vectors for similarity matching.
//
// The extractor is intentionally cheap: it uses simplified time-domain
// estimators (magnitude-weighted index average instead of a true FFT-based
// spectral centroid) so that per-frame cost stays bounded and predictable on
// the hot classification path. The dominant-frequency estimator in this
// package is the only place a real FFT is used, and it runs outside the
// seven feature dimensions.
//
// Extraction never fails: degenerate input (empty or odd-length frames)
// produces a zero vector and all divisions guard against zero denominators.
package feature

import (
	"encoding/binary"
	"math"

	"github.com/MrWong99/attune/pkg/types"
)

// spectralWindow caps how many samples feed the spectral centroid and rolloff
// estimators. The buffer is truncated, not padded, so per-frame cost stays
// bounded regardless of input frame size.
const spectralWindow = 1024

// rolloffFraction is the cumulative-magnitude fraction at which the spectral
// rolloff index is taken.
const rolloffFraction = 0.85

// DecodePCM16 converts little-endian signed 16-bit PCM bytes to float64
// samples normalised to [-1, 1] (divide by 32767). A trailing odd byte is
// silently ignored.
func DecodePCM16(pcm []byte) []float64 {
	n := len(pcm) / 2
	samples := make([]float64, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float64(s) / 32767.0
	}
	return samples
}

// Extract computes the seven-dimensional feature vector for one PCM16LE mono
// frame. The dimension order is fixed for reproducibility: RMS energy,
// zero-crossing rate, spectral centroid, spectral rolloff, mean amplitude,
// amplitude standard deviation, peak amplitude.
//
// Empty or malformed frames yield the zero vector; Extract never fails.
func Extract(pcm []byte) types.FeatureVector {
	return ExtractSamples(DecodePCM16(pcm))
}

// ExtractSamples is [Extract] on already-decoded normalised samples.
func ExtractSamples(samples []float64) types.FeatureVector {
	v := make(types.FeatureVector, types.FeatureDimensions)
	if len(samples) == 0 {
		return v
	}

	// RMS energy.
	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	v[0] = math.Sqrt(sumSq / float64(len(samples)))

	// Zero-crossing rate: sign changes between consecutive samples over the
	// total sample count.
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	v[1] = float64(crossings) / float64(len(samples))

	// Spectral centroid and rolloff over the truncated window.
	window := samples
	if len(window) > spectralWindow {
		window = window[:spectralWindow]
	}
	v[2], v[3] = spectralShape(window)

	// Mean amplitude and its standard deviation over the full sample set.
	var sumAbs float64
	for _, s := range samples {
		sumAbs += math.Abs(s)
	}
	mean := sumAbs / float64(len(samples))
	var varSum float64
	for _, s := range samples {
		d := math.Abs(s) - mean
		varSum += d * d
	}
	v[4] = mean
	v[5] = math.Sqrt(varSum / float64(len(samples)))

	// Peak absolute amplitude.
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	v[6] = peak

	return v
}

// spectralShape computes the simplified spectral centroid (magnitude-weighted
// index average) and the rolloff index (normalised position at which
// cumulative magnitude first reaches rolloffFraction of the total) over the
// given window. Both are 0 when the window carries no magnitude.
func spectralShape(window []float64) (centroid, rolloff float64) {
	var total, weighted float64
	for i, s := range window {
		m := math.Abs(s)
		total += m
		weighted += float64(i) * m
	}
	if total == 0 {
		return 0, 0
	}
	centroid = weighted / total

	target := total * rolloffFraction
	var cum float64
	for i, s := range window {
		cum += math.Abs(s)
		if cum >= target {
			rolloff = float64(i) / float64(len(window))
			break
		}
	}
	return centroid, rolloff
}
