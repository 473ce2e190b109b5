package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/attune/pkg/history"
	"github.com/MrWong99/attune/pkg/types"
)

const defaultQueryLimit = 100

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL-backed detection history. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the detections table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that feature columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Record implements [history.Store].
func (s *Store) Record(ctx context.Context, event types.DetectionEvent) (int64, error) {
	const q = `
		INSERT INTO detections
		    (timestamp, label_name, person_id, confidence, cluster_id,
		     frequency_hz, duration_ms, transcription, features, audio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var features any
	if len(event.Features) == types.FeatureDimensions {
		features = pgvector.NewVector(event.Features.Float32())
	}

	var id int64
	err := s.pool.QueryRow(ctx, q,
		event.Timestamp,
		event.LabelName,
		event.PersonID,
		event.Confidence,
		event.ClusterID,
		event.FrequencyHz,
		event.DurationMs,
		event.Transcription,
		features,
		event.Audio,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("history store: record detection: %w", err)
	}
	return id, nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, opts history.QueryOpts) ([]types.DetectionEvent, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if opts.LabelName != "" {
		conditions = append(conditions, "label_name = "+next(opts.LabelName))
	}
	if opts.PersonID != "" {
		conditions = append(conditions, "person_id = "+next(opts.PersonID))
	}
	if opts.ClusterID != "" {
		conditions = append(conditions, "cluster_id = "+next(opts.ClusterID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, timestamp, label_name, person_id, confidence, cluster_id,
		       frequency_hz, duration_ms, transcription, features, audio
		FROM   detections
		%s
		ORDER  BY timestamp DESC
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: query detections: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanDetection)
	if err != nil {
		return nil, fmt.Errorf("history store: scan detections: %w", err)
	}
	if events == nil {
		events = []types.DetectionEvent{}
	}
	return events, nil
}

// Relabel implements [history.Store].
func (s *Store) Relabel(ctx context.Context, clusterID, labelName string) (int64, error) {
	const q = `
		UPDATE detections
		SET    label_name = $2, cluster_id = ''
		WHERE  cluster_id = $1`

	tag, err := s.pool.Exec(ctx, q, clusterID, labelName)
	if err != nil {
		return 0, fmt.Errorf("history store: relabel cluster %q: %w", clusterID, err)
	}
	return tag.RowsAffected(), nil
}

// Similar implements [history.Store].
func (s *Store) Similar(ctx context.Context, features types.FeatureVector, topK int) ([]history.Match, error) {
	if topK <= 0 || len(features) != types.FeatureDimensions {
		return []history.Match{}, nil
	}

	const q = `
		SELECT id, timestamp, label_name, person_id, confidence, cluster_id,
		       frequency_hz, duration_ms, transcription, features, audio,
		       features <=> $1 AS distance
		FROM   detections
		WHERE  features IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(features.Float32()), topK)
	if err != nil {
		return nil, fmt.Errorf("history store: similarity search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Match, error) {
		var (
			m   history.Match
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&m.Event.ID,
			&m.Event.Timestamp,
			&m.Event.LabelName,
			&m.Event.PersonID,
			&m.Event.Confidence,
			&m.Event.ClusterID,
			&m.Event.FrequencyHz,
			&m.Event.DurationMs,
			&m.Event.Transcription,
			&vec,
			&m.Event.Audio,
			&m.Distance,
		); err != nil {
			return history.Match{}, err
		}
		m.Event.Features = vectorToFeatures(vec)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan matches: %w", err)
	}
	if matches == nil {
		matches = []history.Match{}
	}
	return matches, nil
}

// Close implements [history.Store]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanDetection(row pgx.CollectableRow) (types.DetectionEvent, error) {
	var (
		ev  types.DetectionEvent
		vec *pgvector.Vector
	)
	if err := row.Scan(
		&ev.ID,
		&ev.Timestamp,
		&ev.LabelName,
		&ev.PersonID,
		&ev.Confidence,
		&ev.ClusterID,
		&ev.FrequencyHz,
		&ev.DurationMs,
		&ev.Transcription,
		&vec,
		&ev.Audio,
	); err != nil {
		return types.DetectionEvent{}, err
	}
	ev.Features = vectorToFeatures(vec)
	return ev, nil
}

func vectorToFeatures(vec *pgvector.Vector) types.FeatureVector {
	if vec == nil {
		return nil
	}
	raw := vec.Slice()
	out := make(types.FeatureVector, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}
