package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/attune/pkg/provider/acoustic"
	acousticmock "github.com/MrWong99/attune/pkg/provider/acoustic/mock"
)

func TestAcousticFallback_Classify_PrimarySuccess(t *testing.T) {
	primary := &acousticmock.Backend{
		AvailableResult: true,
		ClassifyResult:  []acoustic.Event{{Category: "dog_bark", Confidence: 0.92}},
	}
	secondary := &acousticmock.Backend{AvailableResult: true}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	events, err := fb.Classify(context.Background(), []byte{1, 2, 3, 4}, 44100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Category != "dog_bark" {
		t.Fatalf("events = %+v, want one dog_bark", events)
	}
	if len(primary.ClassifyCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.ClassifyCalls))
	}
	if primary.ClassifyCalls[0].SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", primary.ClassifyCalls[0].SampleRate)
	}
	if len(secondary.ClassifyCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.ClassifyCalls))
	}
}

func TestAcousticFallback_Classify_Failover(t *testing.T) {
	primary := &acousticmock.Backend{
		AvailableResult: true,
		ClassifyErr:     errors.New("primary down"),
	}
	secondary := &acousticmock.Backend{
		AvailableResult: true,
		ClassifyResult:  []acoustic.Event{{Category: "doorbell", Confidence: 0.6}},
	}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	events, err := fb.Classify(context.Background(), []byte{1, 2}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Category != "doorbell" {
		t.Fatalf("events = %+v, want one doorbell", events)
	}
}

func TestAcousticFallback_Classify_UnavailableBackendSkipped(t *testing.T) {
	primary := &acousticmock.Backend{AvailableResult: false}
	secondary := &acousticmock.Backend{
		AvailableResult: true,
		ClassifyResult:  []acoustic.Event{{Category: "speech", Confidence: 0.8}},
	}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	events, err := fb.Classify(context.Background(), []byte{1, 2}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Category != "speech" {
		t.Fatalf("events = %+v, want one speech", events)
	}
	if len(primary.ClassifyCalls) != 0 {
		t.Fatalf("unavailable primary classified %d frames, want 0", len(primary.ClassifyCalls))
	}
}

func TestAcousticFallback_Classify_AllFail(t *testing.T) {
	primary := &acousticmock.Backend{AvailableResult: false}
	secondary := &acousticmock.Backend{
		AvailableResult: true,
		ClassifyErr:     errors.New("secondary down"),
	}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Classify(context.Background(), []byte{1, 2}, 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestAcousticFallback_Available(t *testing.T) {
	primary := &acousticmock.Backend{AvailableResult: false}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if fb.Available() {
		t.Fatal("Available() = true with no available backend")
	}

	fb.AddFallback("secondary", &acousticmock.Backend{AvailableResult: true})
	if !fb.Available() {
		t.Fatal("Available() = false with an available fallback")
	}
}

func TestAcousticFallback_CloseClosesAllBackends(t *testing.T) {
	primary := &acousticmock.Backend{}
	secondary := &acousticmock.Backend{CloseErr: errors.New("close failed")}

	fb := NewAcousticFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err == nil {
		t.Fatal("expected close error to propagate")
	}
	if primary.CloseCallCount != 1 || secondary.CloseCallCount != 1 {
		t.Fatalf("close counts = %d/%d, want 1/1", primary.CloseCallCount, secondary.CloseCallCount)
	}
}
