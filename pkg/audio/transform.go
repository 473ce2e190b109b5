// Package audio provides the PCM16LE utilities of the classification
// pipeline: the playback transform stage (volume scaling, mute, phase
// inversion) and the format conversion helpers that feed the 16 kHz
// speech-to-text path from native-rate capture.
//
// All functions operate on little-endian signed 16-bit PCM and preserve the
// byte length of their input.
package audio

import "encoding/binary"

// TransformSettings carries the per-label or per-person playback policy for
// one frame. Snapshots are taken from Label/Person records by the classifier.
type TransformSettings struct {
	// Volume is the gain multiplier in [0, 2]; 1.0 is unity.
	Volume float64

	// Muted replaces the frame with silence, regardless of Volume.
	Muted bool

	// InvertPhase enables the reverse-tone transform. Labels only; person
	// settings never set this.
	InvertPhase bool
}

// InversionVariant selects how phase inversion is computed.
type InversionVariant string

const (
	// InvertSimple negates every sample. Applying it twice restores the
	// original frame exactly.
	InvertSimple InversionVariant = "simple"

	// InvertBlended negates every sample and blends 90% of the negated value
	// with 10% of the previous raw (pre-inversion) sample, smoothing the
	// cancellation of periodic signals. Deterministic given the same input
	// and previous-sample state, but not an involution.
	InvertBlended InversionVariant = "blended"
)

// IsValid reports whether v is a recognised inversion variant.
func (v InversionVariant) IsValid() bool {
	return v == InvertSimple || v == InvertBlended
}

// Transformer applies the playback transform stage to successive frames of
// one stream. It exists as a type (rather than a free function) only to carry
// the previous-sample state needed by [InvertBlended]; with [InvertSimple]
// the transform is a pure function of its inputs.
//
// Not safe for concurrent use; create one per stream.
type Transformer struct {
	variant InversionVariant

	// prevRaw is the last pre-inversion sample of the previous frame.
	prevRaw int16
}

// NewTransformer creates a Transformer. Unrecognised variants fall back to
// [InvertSimple].
func NewTransformer(variant InversionVariant) *Transformer {
	if !variant.IsValid() {
		variant = InvertSimple
	}
	return &Transformer{variant: variant}
}

// Reset clears the previous-sample state. Call when the stream is
// interrupted so a stale sample from before the gap cannot bleed into the
// first frame after it.
func (t *Transformer) Reset() {
	t.prevRaw = 0
}

// Transform applies the transform stage to one frame and returns a frame of
// identical byte length. The step order is fixed and not commutative:
//
//  1. Mute (or Volume == 0) short-circuits to an all-zero frame.
//  2. Volume scaling with a hard clip to the int16 range.
//  3. Phase inversion per the configured variant.
//
// A volume multiplier of exactly 1.0 with no inversion returns the input
// slice unchanged (byte-identical, zero allocation). The input is never
// modified in place otherwise.
func (t *Transformer) Transform(pcm []byte, s TransformSettings) []byte {
	if s.Muted || s.Volume == 0 {
		return make([]byte, len(pcm))
	}

	// Fast path: unity gain, no inversion.
	if s.Volume == 1 && !s.InvertPhase {
		return pcm
	}

	n := len(pcm) / 2
	out := make([]byte, len(pcm))
	// A trailing odd byte is copied through untouched.
	if len(pcm)%2 == 1 {
		out[len(pcm)-1] = pcm[len(pcm)-1]
	}

	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))

		scaled := sample
		if s.Volume != 1 {
			scaled = clampInt16(float64(sample) * s.Volume)
		}

		value := scaled
		if s.InvertPhase {
			value = t.invert(scaled)
			t.prevRaw = scaled
		}

		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

// invert computes one inverted sample. Under InvertSimple, -32768 maps to
// itself (it has no exact negation in int16) which keeps double inversion an
// exact identity for every sample value.
func (t *Transformer) invert(sample int16) int16 {
	switch t.variant {
	case InvertBlended:
		blended := 0.9*float64(-int32(sample)) + 0.1*float64(t.prevRaw)
		return clampInt16(blended)
	default:
		if sample == -32768 {
			return -32768
		}
		return -sample
	}
}

// clampInt16 hard-clips a float to the signed 16-bit range.
func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
