package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/attune/pkg/provider/acoustic"
)

// AcousticFallback implements [acoustic.Backend] with automatic failover across
// multiple audio-event classifiers. Each backend has its own circuit breaker,
// so a flapping remote service stops being called after a few failures instead
// of delaying every frame.
type AcousticFallback struct {
	group *FallbackGroup[acoustic.Backend]
}

// Compile-time interface assertion.
var _ acoustic.Backend = (*AcousticFallback)(nil)

// NewAcousticFallback creates an [AcousticFallback] with primary as the
// preferred backend.
func NewAcousticFallback(primary acoustic.Backend, primaryName string, cfg FallbackConfig) *AcousticFallback {
	return &AcousticFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional acoustic backend as a fallback.
func (f *AcousticFallback) AddFallback(name string, backend acoustic.Backend) {
	f.group.AddFallback(name, backend)
}

// Available reports whether any entry in the group can currently classify.
// Open circuit breakers count as unavailable.
func (f *AcousticFallback) Available() bool {
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		if entry.breaker.State() != StateOpen && entry.value.Available() {
			return true
		}
	}
	return false
}

// Classify runs the frame against the first healthy backend. A backend that
// reports unavailable counts as a failure, so a persistently absent backend
// eventually opens its breaker and stops being consulted.
func (f *AcousticFallback) Classify(ctx context.Context, pcm []byte, sampleRate int) ([]acoustic.Event, error) {
	return ExecuteWithResult(f.group, func(b acoustic.Backend) ([]acoustic.Event, error) {
		if !b.Available() {
			return nil, acoustic.ErrUnavailable
		}
		return b.Classify(ctx, pcm, sampleRate)
	})
}

// Close closes every backend in the group and returns the joined errors.
func (f *AcousticFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
