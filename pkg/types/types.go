// Package types defines the shared types used across all Attune packages.
//
// These types form the lingua franca between the feature extractor, pattern
// store, cluster manager, classifier, and storage layers. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// FeatureDimensions is the fixed length of every [FeatureVector] produced by
// the feature extractor: RMS energy, zero-crossing rate, spectral centroid,
// spectral rolloff, mean amplitude, amplitude standard deviation, and peak
// amplitude — in that order.
const FeatureDimensions = 7

// FeatureVector is a fixed-length numeric summary of one audio frame used for
// similarity comparison. All dimensions are finite; a vector produced from an
// empty or malformed frame is the zero vector, never an error.
type FeatureVector []float64

// Clone returns an independent copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// IsZero reports whether every dimension is exactly zero.
func (v FeatureVector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Float32 converts the vector to float32 precision, e.g. for storage in a
// pgvector column.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — received from the
// capture collaborator, classified, transformed, and handed back for playback.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for native capture, 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono classification input, 2 for raw stereo capture
	// that has not yet been downmixed.
	Channels int

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration
}

// Label is a read snapshot of a user-defined sound category. Label records
// are owned by the external persistence collaborator and passed into the core
// per frame; the core never deletes them.
type Label struct {
	// Name is the unique, stable identity of the label.
	Name string

	// Threshold is the minimum similarity score required for a frame to
	// classify as this label. Range [0,1], default 0.7.
	Threshold float64

	// Volume is the playback multiplier applied to matching frames.
	// Range [0,2]; 1.0 is unity gain.
	Volume float64

	// Muted replaces matching frames with silence regardless of Volume.
	Muted bool

	// InvertPhase enables the reverse-tone transform for matching frames.
	InvertPhase bool

	// Active controls whether the label participates in matching at all.
	Active bool

	// Detections counts how often this label has matched.
	Detections int
}

// Person is a read snapshot of a known human voice. Same lifecycle shape as
// [Label] but voice-specific: no phase inversion, and an optional accumulated
// transcription.
type Person struct {
	// ID is the stable identity of the person record.
	ID string

	// Name is the display name.
	Name string

	// Volume is the playback multiplier; 0 mutes the person entirely.
	Volume float64

	// Muted replaces matching frames with silence.
	Muted bool

	// Active controls whether the person participates in voice matching.
	Active bool

	// Detections counts how often this person's voice has matched.
	Detections int

	// Transcription is accumulated speech-to-text output, newline-separated
	// with a person tag prefix. Purely additive; empty when no STT backend
	// is available.
	Transcription string
}

// Outcome enumerates the mutually exclusive classification states for one frame.
type Outcome int

const (
	// OutcomeNoMatch means no person or label exceeded its threshold; the
	// frame was routed to the cluster manager.
	OutcomeNoMatch Outcome = iota

	// OutcomePersonMatch means a known voice matched above the voice threshold.
	OutcomePersonMatch

	// OutcomeLabelMatch means a sound label matched above its threshold.
	OutcomeLabelMatch
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no_match"
	case OutcomePersonMatch:
		return "person_match"
	case OutcomeLabelMatch:
		return "label_match"
	default:
		return "unknown"
	}
}

// ClassificationResult is returned to the caller for every processed frame.
type ClassificationResult struct {
	// Outcome is the classification state.
	Outcome Outcome

	// LabelName identifies the matched label when Outcome is OutcomeLabelMatch.
	LabelName string

	// PersonID identifies the matched person when Outcome is OutcomePersonMatch.
	PersonID string

	// Confidence is the similarity score of the winning match (0.0–1.0).
	// Zero for OutcomeNoMatch.
	Confidence float64

	// ClusterID identifies the unknown cluster the frame was assigned to.
	// Empty unless Outcome is OutcomeNoMatch.
	ClusterID string

	// FrequencyHz is the estimated dominant frequency of the frame, expressed
	// against the input sample rate. Zero when estimation was not possible.
	FrequencyHz float64

	// DurationMs is the frame duration in milliseconds.
	DurationMs float64

	// Transcription is the STT text for this frame, when a speech backend is
	// available and the frame matched a person. Additive only.
	Transcription string
}

// DetectionEvent is an immutable record of one classification outcome.
// Append-only from the core's perspective; the only permitted mutation of
// history is relabeling previously-unknown detections when a cluster is
// promoted.
type DetectionEvent struct {
	// ID is the storage-assigned identifier. Zero until persisted.
	ID int64

	// Timestamp is the wall-clock time of the detection.
	Timestamp time.Time

	// LabelName references the matched label, if any.
	LabelName string

	// PersonID references the matched person, if any.
	PersonID string

	// Confidence is the similarity score of the match (0.0–1.0).
	Confidence float64

	// ClusterID references the unknown cluster, if any.
	ClusterID string

	// FrequencyHz is the estimated dominant frequency, if estimated.
	FrequencyHz float64

	// DurationMs is the frame duration in milliseconds.
	DurationMs float64

	// Transcription is the STT text attached to this detection, if any.
	Transcription string

	// Features is the feature vector extracted from the source frame.
	Features FeatureVector

	// Audio is a copy of the source PCM frame.
	Audio []byte
}
