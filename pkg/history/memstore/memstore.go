// Package memstore provides an in-memory implementation of [history.Store].
//
// It backs deployments that run without a database and doubles as the test
// double for packages that persist detections. Events are held in insertion
// order; similarity search is an exact scan using cosine distance, which is
// fine at in-memory scale.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/attune/pkg/history"
	"github.com/MrWong99/attune/pkg/types"
)

const defaultQueryLimit = 100

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is an in-memory [history.Store]. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	events []types.DetectionEvent
	nextID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{nextID: 1}
}

// Record implements [history.Store].
func (s *Store) Record(_ context.Context, event types.DetectionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Features = event.Features.Clone()
	audio := make([]byte, len(event.Audio))
	copy(audio, event.Audio)
	event.Audio = audio

	s.events = append(s.events, event)
	return event.ID, nil
}

// Recent implements [history.Store].
func (s *Store) Recent(_ context.Context, opts history.QueryOpts) ([]types.DetectionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	out := []types.DetectionEvent{}
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if !matches(ev, opts) {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

// Relabel implements [history.Store].
func (s *Store) Relabel(_ context.Context, clusterID, labelName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.events {
		if s.events[i].ClusterID != clusterID {
			continue
		}
		s.events[i].LabelName = labelName
		s.events[i].ClusterID = ""
		n++
	}
	return n, nil
}

// Similar implements [history.Store].
func (s *Store) Similar(_ context.Context, features types.FeatureVector, topK int) ([]history.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []history.Match{}
	if topK <= 0 || len(features) == 0 {
		return out, nil
	}

	for _, ev := range s.events {
		if len(ev.Features) != len(features) {
			continue
		}
		out = append(out, history.Match{
			Event:    cloneEvent(ev),
			Distance: cosineDistance(features, ev.Features),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Close implements [history.Store]. It is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func matches(ev types.DetectionEvent, opts history.QueryOpts) bool {
	if opts.LabelName != "" && ev.LabelName != opts.LabelName {
		return false
	}
	if opts.PersonID != "" && ev.PersonID != opts.PersonID {
		return false
	}
	if opts.ClusterID != "" && ev.ClusterID != opts.ClusterID {
		return false
	}
	if !opts.After.IsZero() && !ev.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !ev.Timestamp.Before(opts.Before) {
		return false
	}
	return true
}

func cloneEvent(ev types.DetectionEvent) types.DetectionEvent {
	ev.Features = ev.Features.Clone()
	audio := make([]byte, len(ev.Audio))
	copy(audio, ev.Audio)
	ev.Audio = audio
	return ev
}

// cosineDistance returns 1 - cosine similarity. Zero-magnitude vectors are
// treated as maximally distant.
func cosineDistance(a, b types.FeatureVector) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	if math.IsNaN(d) {
		return 1
	}
	return d
}
