// Package cluster groups acoustically-similar unlabeled frames into
// provisional clusters awaiting a user-assigned label.
//
// Two interchangeable strategies are supported, selected per deployment:
//
//   - [StrategySimilarity] compares the incoming feature vector against each
//     cluster's buffered samples and joins the best cluster scoring above the
//     similarity threshold.
//   - [StrategySummary] compares the incoming frame's dominant frequency and
//     duration against each cluster's representative values and joins the
//     first cluster within tolerance (<10% relative frequency difference and
//     <20% relative duration difference).
//
// Both strategies buffer up to [DefaultSampleCap] representative vectors per
// cluster in a FIFO so that promotion can migrate a cluster's history into a
// label's pattern collection.
package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/attune/internal/similarity"
	"github.com/MrWong99/attune/pkg/types"
)

const (
	// DefaultSampleCap is the per-cluster FIFO cap on buffered sample vectors.
	DefaultSampleCap = 20

	// DefaultSimilarityThreshold is the minimum score for a frame to join an
	// existing cluster under [StrategySimilarity].
	DefaultSimilarityThreshold = 0.7

	// frequencyTolerance is the maximum relative frequency difference for a
	// frame to join a cluster under [StrategySummary].
	frequencyTolerance = 0.10

	// durationTolerance is the maximum relative duration difference for a
	// frame to join a cluster under [StrategySummary].
	durationTolerance = 0.20
)

// Strategy selects the clustering policy for a [Manager].
type Strategy string

const (
	// StrategySimilarity clusters by feature-vector similarity.
	StrategySimilarity Strategy = "similarity"

	// StrategySummary clusters by frequency/duration proximity.
	StrategySummary Strategy = "summary"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategySimilarity || s == StrategySummary
}

// Observation is one unmatched frame presented for cluster assignment.
type Observation struct {
	// Features is the frame's feature vector. Required for StrategySimilarity
	// and for promotion under either strategy.
	Features types.FeatureVector

	// FrequencyHz is the estimated dominant frequency. Used by StrategySummary.
	FrequencyHz float64

	// DurationMs is the frame duration in milliseconds. Used by StrategySummary.
	DurationMs float64
}

// Info is a read snapshot of one cluster for listing in UIs and labeling
// requests.
type Info struct {
	// ID is the opaque, time-derived cluster identity.
	ID string

	// SampleCount is the number of buffered feature vectors.
	SampleCount int

	// Observations is the total number of frames assigned, including those
	// whose vectors were evicted from the FIFO.
	Observations int

	// FrequencyHz and DurationMs are the representative summary statistics,
	// taken from the cluster's seed frame.
	FrequencyHz float64
	DurationMs  float64

	// LastSeen is when a frame last joined this cluster.
	LastSeen time.Time
}

type record struct {
	id           string
	samples      []types.FeatureVector
	frequencyHz  float64
	durationMs   float64
	observations int
	lastSeen     time.Time
}

// Manager owns the in-memory cluster table for one detection session.
// Safe for concurrent use, though the detection session serialises all
// mutations anyway to preserve frame ordering.
type Manager struct {
	mu        sync.Mutex
	strategy  Strategy
	threshold float64
	sampleCap int
	clusters  []*record
	byID      map[string]*record
	now       func() time.Time
	seq       uint64
}

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithStrategy selects the clustering strategy. Invalid values are ignored
// and the default (StrategySimilarity) is kept.
func WithStrategy(s Strategy) Option {
	return func(m *Manager) {
		if s.IsValid() {
			m.strategy = s
		}
	}
}

// WithSimilarityThreshold overrides the join threshold for
// [StrategySimilarity]. Values outside (0,1] are ignored.
func WithSimilarityThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// WithSampleCap overrides the per-cluster FIFO cap. Values below 1 are ignored.
func WithSampleCap(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.sampleCap = n
		}
	}
}

// WithClock injects the time source used for cluster IDs and LastSeen.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an empty cluster manager using [StrategySimilarity] and
// the default thresholds.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		strategy:  StrategySimilarity,
		threshold: DefaultSimilarityThreshold,
		sampleCap: DefaultSampleCap,
		byID:      make(map[string]*record),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Assign routes an unmatched observation to an existing cluster or creates a
// new one, and returns the cluster ID. Cluster creation never fails.
func (m *Manager) Assign(obs Observation) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *record
	switch m.strategy {
	case StrategySummary:
		target = m.findBySummary(obs)
	default:
		target = m.findBySimilarity(obs)
	}

	if target == nil {
		target = m.createLocked(obs)
	}

	target.observations++
	target.lastSeen = m.now()
	if len(obs.Features) > 0 {
		target.samples = append(target.samples, obs.Features.Clone())
		if len(target.samples) > m.sampleCap {
			target.samples = target.samples[len(target.samples)-m.sampleCap:]
		}
	}
	return target.id
}

// findBySimilarity returns the best-scoring cluster above the join threshold,
// or nil when none qualifies. Iteration order is creation order, so equal
// scores favour the older cluster.
func (m *Manager) findBySimilarity(obs Observation) *record {
	var best *record
	bestScore := m.threshold
	for _, c := range m.clusters {
		score := similarity.Score(obs.Features, c.samples)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// findBySummary returns the first cluster whose representative frequency and
// duration are both within tolerance of the observation.
func (m *Manager) findBySummary(obs Observation) *record {
	for _, c := range m.clusters {
		if relativeDiff(obs.FrequencyHz, c.frequencyHz) < frequencyTolerance &&
			relativeDiff(obs.DurationMs, c.durationMs) < durationTolerance {
			return c
		}
	}
	return nil
}

// createLocked mints a new cluster seeded with the observation's summary
// statistics. IDs are derived from the clock plus a sequence number so they
// stay unique even when the clock does not advance between calls.
func (m *Manager) createLocked(obs Observation) *record {
	m.seq++
	var id string
	if m.strategy == StrategySummary {
		id = fmt.Sprintf("cluster_%d_%.0fhz_%.0fms_%d",
			m.now().UnixNano(), obs.FrequencyHz, obs.DurationMs, m.seq)
	} else {
		id = fmt.Sprintf("cluster_%d_%d", m.now().UnixNano(), m.seq)
	}
	c := &record{
		id:          id,
		frequencyHz: obs.FrequencyHz,
		durationMs:  obs.DurationMs,
	}
	m.clusters = append(m.clusters, c)
	m.byID[id] = c
	return c
}

// Promote removes the cluster and returns its buffered sample vectors for
// migration into a pattern collection. Promoting an unknown or
// already-promoted cluster returns (nil, false) — a no-op, not an error, so
// the operation is idempotent.
func (m *Manager) Promote(clusterID string) ([]types.FeatureVector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[clusterID]
	if !ok {
		return nil, false
	}
	delete(m.byID, clusterID)
	for i, cand := range m.clusters {
		if cand == c {
			m.clusters = append(m.clusters[:i], m.clusters[i+1:]...)
			break
		}
	}

	samples := make([]types.FeatureVector, len(c.samples))
	for i, v := range c.samples {
		samples[i] = v.Clone()
	}
	return samples, true
}

// Count returns the number of live clusters.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clusters)
}

// Snapshot returns read copies of all live clusters in creation order.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, len(m.clusters))
	for i, c := range m.clusters {
		out[i] = Info{
			ID:           c.id,
			SampleCount:  len(c.samples),
			Observations: c.observations,
			FrequencyHz:  c.frequencyHz,
			DurationMs:   c.durationMs,
			LastSeen:     c.lastSeen,
		}
	}
	return out
}

// MostRecent returns the ID of the cluster that last received a frame.
// Used to resolve labeling requests that omit an explicit cluster ID.
func (m *Manager) MostRecent() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *record
	for _, c := range m.clusters {
		if best == nil || c.lastSeen.After(best.lastSeen) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	return best.id, true
}

// relativeDiff returns |a-b| relative to b. A zero reference matches only a
// zero value; anything else is treated as infinitely far away.
func relativeDiff(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return 0
		}
		return 1
	}
	d := (a - b) / b
	if d < 0 {
		return -d
	}
	return d
}
