// Package postgres provides a PostgreSQL-backed implementation of
// [history.Store].
//
// Detection feature vectors are stored in a pgvector column so that past
// detections can be searched by acoustic similarity. The pgvector extension
// must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.Record(ctx, event)
//	similar, _ := store.Similar(ctx, features, 10)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/attune/pkg/types"
)

// ddlDetections returns the detections DDL with the feature-vector dimension
// substituted. The dimension is baked into the column type at schema creation
// time and always equals [types.FeatureDimensions].
func ddlDetections(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS detections (
    id            BIGSERIAL    PRIMARY KEY,
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    label_name    TEXT         NOT NULL DEFAULT '',
    person_id     TEXT         NOT NULL DEFAULT '',
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    cluster_id    TEXT         NOT NULL DEFAULT '',
    frequency_hz  DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms   DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcription TEXT         NOT NULL DEFAULT '',
    features      vector(%d),
    audio         BYTEA        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_detections_timestamp
    ON detections (timestamp);

CREATE INDEX IF NOT EXISTS idx_detections_label_name
    ON detections (label_name);

CREATE INDEX IF NOT EXISTS idx_detections_person_id
    ON detections (person_id);

CREATE INDEX IF NOT EXISTS idx_detections_cluster_id
    ON detections (cluster_id);

CREATE INDEX IF NOT EXISTS idx_detections_features
    ON detections USING hnsw (features vector_cosine_ops);
`, dimensions)
}

// Migrate creates or ensures the detections table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDetections(types.FeatureDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
