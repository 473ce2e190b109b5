package cluster_test

import (
	"testing"
	"time"

	"github.com/MrWong99/attune/internal/cluster"
	"github.com/MrWong99/attune/pkg/types"
)

func vec(xs ...float64) types.FeatureVector { return types.FeatureVector(xs) }

// tickingClock returns a clock that advances one millisecond per call, so
// every cluster gets a distinct, ordered timestamp.
func tickingClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestAssign_SimilarFramesShareOneCluster(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(cluster.WithClock(tickingClock()))

	// 50 near-identical synthetic "click" vectors.
	var firstID string
	for i := range 50 {
		jitter := float64(i) * 1e-6
		id := m.Assign(cluster.Observation{
			Features: vec(0.5+jitter, 0.1, 120, 0.85, 0.3, 0.05, 0.9),
		})
		if firstID == "" {
			firstID = id
		} else if id != firstID {
			t.Fatalf("frame %d assigned to %q, want %q", i, id, firstID)
		}
	}

	if got := m.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	info := m.Snapshot()[0]
	if info.SampleCount != cluster.DefaultSampleCap {
		t.Errorf("SampleCount = %d, want FIFO cap %d", info.SampleCount, cluster.DefaultSampleCap)
	}
	if info.Observations != 50 {
		t.Errorf("Observations = %d, want 50", info.Observations)
	}
}

func TestAssign_DissimilarFramesCreateNewClusters(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(cluster.WithClock(tickingClock()))
	a := m.Assign(cluster.Observation{Features: vec(0.1, 0.1, 10, 0.2, 0.1, 0.01, 0.2)})
	b := m.Assign(cluster.Observation{Features: vec(50, 80, 900, 90, 70, 30, 60)})

	if a == b {
		t.Fatalf("dissimilar frames share cluster %q", a)
	}
	if got := m.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestAssign_SummaryStrategyTolerances(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(
		cluster.WithStrategy(cluster.StrategySummary),
		cluster.WithClock(tickingClock()),
	)

	seed := m.Assign(cluster.Observation{FrequencyHz: 1000, DurationMs: 100})

	tests := []struct {
		name     string
		freq     float64
		dur      float64
		sameWant bool
	}{
		{"within both tolerances", 1050, 110, true},
		{"frequency too far", 1200, 100, false},
		{"duration too far", 1000, 130, false},
		{"exactly at frequency limit", 1100, 100, false}, // 10% is not < 10%
	}
	for _, tt := range tests {
		id := m.Assign(cluster.Observation{FrequencyHz: tt.freq, DurationMs: tt.dur})
		if same := id == seed; same != tt.sameWant {
			t.Errorf("%s: joined seed = %v, want %v", tt.name, same, tt.sameWant)
		}
	}
}

func TestAssign_SummaryZeroFrequencyReference(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(
		cluster.WithStrategy(cluster.StrategySummary),
		cluster.WithClock(tickingClock()),
	)
	silent := m.Assign(cluster.Observation{FrequencyHz: 0, DurationMs: 100})
	tonal := m.Assign(cluster.Observation{FrequencyHz: 500, DurationMs: 100})
	if silent == tonal {
		t.Error("tonal frame joined the zero-frequency cluster")
	}
	again := m.Assign(cluster.Observation{FrequencyHz: 0, DurationMs: 105})
	if again != silent {
		t.Error("second silent frame did not rejoin the zero-frequency cluster")
	}
}

func TestPromote_RemovesClusterForGood(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(cluster.WithClock(tickingClock()))
	obs := cluster.Observation{Features: vec(0.5, 0.1, 120, 0.85, 0.3, 0.05, 0.9)}
	id := m.Assign(obs)
	m.Assign(obs)

	samples, ok := m.Promote(id)
	if !ok {
		t.Fatal("Promote = false, want true")
	}
	if len(samples) != 2 {
		t.Errorf("len(samples) = %d, want 2", len(samples))
	}
	if got := m.Count(); got != 0 {
		t.Errorf("Count after promote = %d, want 0", got)
	}

	// Idempotent: promoting again is a no-op.
	if _, ok := m.Promote(id); ok {
		t.Error("second Promote = true, want false")
	}

	// Subsequent assigns mint a new identity, never resurrect the old one.
	newID := m.Assign(obs)
	if newID == id {
		t.Errorf("new cluster reused promoted ID %q", id)
	}
}

func TestAssign_UniqueIDsUnderFrozenClock(t *testing.T) {
	t.Parallel()

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := cluster.NewManager(cluster.WithClock(func() time.Time { return frozen }))

	a := m.Assign(cluster.Observation{Features: vec(0, 0, 0, 0, 0, 0, 1)})
	b := m.Assign(cluster.Observation{Features: vec(100, 100, 100, 100, 100, 100, 100)})
	if a == b {
		t.Errorf("clusters share ID %q under a frozen clock", a)
	}
}

func TestMostRecent(t *testing.T) {
	t.Parallel()

	m := cluster.NewManager(cluster.WithClock(tickingClock()))
	if _, ok := m.MostRecent(); ok {
		t.Fatal("MostRecent on empty manager = true, want false")
	}

	m.Assign(cluster.Observation{Features: vec(0.1, 0.1, 10, 0.2, 0.1, 0.01, 0.2)})
	second := m.Assign(cluster.Observation{Features: vec(50, 80, 900, 90, 70, 30, 60)})

	got, ok := m.MostRecent()
	if !ok || got != second {
		t.Errorf("MostRecent = %q, %v; want %q, true", got, ok, second)
	}
}
