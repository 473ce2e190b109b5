// Package history defines the detection-history store used to persist
// classification outcomes.
//
// Detection events are append-only: the core records one event per classified
// frame and never mutates history, with a single exception — when an unknown
// cluster is promoted to a label, past detections of that cluster are
// relabeled so the history reflects the user's naming decision.
//
// The interface is public so that external packages can supply alternative
// backends (Postgres/pgvector, in-memory, …) without depending on attune
// internals. Every implementation must be safe for concurrent use.
package history

import (
	"context"
	"time"

	"github.com/MrWong99/attune/pkg/types"
)

// QueryOpts narrows a detection-history query. All non-zero fields are applied
// as AND conditions.
type QueryOpts struct {
	// LabelName restricts results to detections of a single label.
	LabelName string

	// PersonID restricts results to detections of a single person.
	PersonID string

	// ClusterID restricts results to detections assigned to a single cluster.
	ClusterID string

	// After filters detections recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters detections recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// Match pairs a retrieved detection with its vector-space distance from the
// query features. Lower Distance values indicate higher acoustic similarity.
type Match struct {
	// Event is the retrieved detection.
	Event types.DetectionEvent

	// Distance is the cosine distance between the query features and the
	// detection's stored feature vector.
	Distance float64
}

// Store persists detection events for one deployment.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Record appends a detection event and returns its assigned ID.
	// Returns an error only on persistent storage failure.
	Record(ctx context.Context, event types.DetectionEvent) (int64, error)

	// Recent returns detections matching opts in reverse chronological order
	// (newest first). Returns an empty (non-nil) slice when nothing matches.
	Recent(ctx context.Context, opts QueryOpts) ([]types.DetectionEvent, error)

	// Relabel rewrites the label of all detections assigned to clusterID and
	// clears their cluster reference. Called when a cluster is promoted.
	// Returns the number of relabeled detections; relabeling an unknown
	// cluster relabels nothing and is not an error.
	Relabel(ctx context.Context, clusterID, labelName string) (int64, error)

	// Similar finds the topK detections whose feature vectors are closest to
	// the query features, ordered by ascending distance. Returns an empty
	// (non-nil) slice when the store is empty.
	Similar(ctx context.Context, features types.FeatureVector, topK int) ([]Match, error)

	// Close releases any resources held by the store.
	Close() error
}
