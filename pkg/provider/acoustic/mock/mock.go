// Package mock provides a test double for the acoustic package interfaces.
//
// Use Backend to inject classification results and inspect the frames that
// were submitted:
//
//	b := &mock.Backend{
//	    AvailableResult: true,
//	    ClassifyResult:  []acoustic.Event{{Category: "dog_bark", Confidence: 0.92}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/attune/pkg/provider/acoustic"
)

// ClassifyCall records a single invocation of Backend.Classify.
type ClassifyCall struct {
	// Frame is a copy of the bytes passed to Classify.
	Frame []byte

	// SampleRate is the rate passed to Classify.
	SampleRate int
}

// Backend is a mock implementation of acoustic.Backend.
type Backend struct {
	mu sync.Mutex

	// AvailableResult is returned by Available.
	AvailableResult bool

	// ClassifyResult is returned by every Classify call.
	ClassifyResult []acoustic.Event

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Compile-time assertion that Backend implements acoustic.Backend.
var _ acoustic.Backend = (*Backend)(nil)

// Available returns AvailableResult.
func (b *Backend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AvailableResult
}

// Classify records the call and returns ClassifyResult, ClassifyErr.
func (b *Backend) Classify(_ context.Context, pcm []byte, sampleRate int) ([]acoustic.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	b.ClassifyCalls = append(b.ClassifyCalls, ClassifyCall{Frame: frame, SampleRate: sampleRate})
	if b.ClassifyErr != nil {
		return nil, b.ClassifyErr
	}
	return b.ClassifyResult, nil
}

// Close records the call and returns CloseErr.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return b.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ClassifyCalls = nil
	b.CloseCallCount = 0
}
