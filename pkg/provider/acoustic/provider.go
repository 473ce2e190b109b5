// Package acoustic defines the Backend interface for optional third-party
// audio-event classifiers.
//
// A backend wraps a pretrained sound-event model (e.g., an ONNX audio tagger
// or a remote classification service). Such a model may legitimately be
// absent from a deployment, so availability is negotiated once at startup
// rather than probed dynamically: the classifier always checks [Backend.Available]
// before use and falls back to its own lightweight feature estimators when
// the backend reports unavailable or fails.
//
// Implementations must be safe for concurrent use.
package acoustic

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by [Unavailable.Classify] and may be returned by
// any backend whose underlying model has become unusable.
var ErrUnavailable = errors.New("acoustic backend unavailable")

// Event is one category hypothesis for a frame, as reported by the backend.
type Event struct {
	// Category is the backend's event vocabulary entry (e.g., "dog_bark").
	Category string

	// Confidence is the backend's score for this category (0.0–1.0).
	Confidence float64
}

// Backend is the abstraction over any third-party audio-event classifier.
type Backend interface {
	// Available reports whether the backend can currently classify frames.
	// Callers must check this before Classify; a false return is the normal
	// degraded-capability state, not an error.
	Available() bool

	// Classify analyses one PCM16LE mono frame and returns category
	// hypotheses ordered by descending confidence. An empty slice means the
	// backend recognised nothing — a normal outcome.
	Classify(ctx context.Context, pcm []byte, sampleRate int) ([]Event, error)

	// Close releases the backend's resources. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Unavailable is the [Backend] used when no classifier is configured. It
// reports unavailable and rejects all classification attempts, letting the
// core run purely on its own estimators.
type Unavailable struct {
	// Reason describes why no backend is present, for logs.
	Reason string
}

// Compile-time assertion that Unavailable implements Backend.
var _ Backend = (*Unavailable)(nil)

// Available always reports false.
func (*Unavailable) Available() bool { return false }

// Classify always returns [ErrUnavailable].
func (*Unavailable) Classify(context.Context, []byte, int) ([]Event, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (*Unavailable) Close() error { return nil }
