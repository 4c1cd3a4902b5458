// Package postgres provides a PostgreSQL-backed meeting store with pgvector
// semantic search over transcript segments.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS and is idempotent, so it is
// safe to run on every application start.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mkarols/notula/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of store.Store. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
//
// embeddingDimensions must match the configured embedding model (e.g., 1536
// for OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Vector columns scan into and insert from pgvector.Vector values only
	// when the types are registered per connection.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_meetings_started_at
    ON meetings (started_at);
`

// ddlSegments returns the segment DDL with the embedding dimension baked
// into the column type.
func ddlSegments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS meeting_segments (
    id          TEXT         PRIMARY KEY,
    meeting_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_meeting_segments_meeting_id
    ON meeting_segments (meeting_id);

CREATE INDEX IF NOT EXISTS idx_meeting_segments_created_at
    ON meeting_segments (created_at);

CREATE INDEX IF NOT EXISTS idx_meeting_segments_embedding
    ON meeting_segments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and the pgvector
// extension exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlMeetings, ddlSegments(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// SaveMeeting implements store.Store with an upsert by ID.
func (s *Store) SaveMeeting(ctx context.Context, m store.Meeting) error {
	const q = `
		INSERT INTO meetings (id, title, started_at, ended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    title      = EXCLUDED.title,
		    started_at = EXCLUDED.started_at,
		    ended_at   = EXCLUDED.ended_at`

	var endedAt any
	if !m.EndedAt.IsZero() {
		endedAt = m.EndedAt
	}
	_, err := s.pool.Exec(ctx, q, m.ID, m.Title, m.StartedAt, endedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save meeting: %w", err)
	}
	return nil
}

// AppendSegment implements store.Store with an upsert by ID. A segment
// without an embedding stores NULL and is skipped by SearchSegments.
func (s *Store) AppendSegment(ctx context.Context, seg store.Segment) error {
	const q = `
		INSERT INTO meeting_segments (id, meeting_id, text, created_at, confidence, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    meeting_id = EXCLUDED.meeting_id,
		    text       = EXCLUDED.text,
		    created_at = EXCLUDED.created_at,
		    confidence = EXCLUDED.confidence,
		    embedding  = EXCLUDED.embedding`

	var vec any
	if len(seg.Embedding) > 0 {
		vec = pgvector.NewVector(seg.Embedding)
	}
	_, err := s.pool.Exec(ctx, q, seg.ID, seg.MeetingID, seg.Text, seg.CreatedAt, seg.Confidence, vec)
	if err != nil {
		return fmt.Errorf("postgres store: append segment: %w", err)
	}
	return nil
}

// SearchSegments implements store.Store via pgvector cosine distance,
// most similar first.
func (s *Store) SearchSegments(ctx context.Context, embedding []float32, topK int, f store.Filter) ([]store.SearchResult, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if f.MeetingID != "" {
		conditions = append(conditions, "meeting_id = "+next(f.MeetingID))
	}
	if !f.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(f.After))
	}
	if !f.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(f.Before))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, meeting_id, text, created_at, confidence, embedding,
		       embedding <=> $1 AS distance
		FROM   meeting_segments
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search segments: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchResult, error) {
		var (
			sr  store.SearchResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&sr.Segment.ID,
			&sr.Segment.MeetingID,
			&sr.Segment.Text,
			&sr.Segment.CreatedAt,
			&sr.Segment.Confidence,
			&vec,
			&sr.Distance,
		); err != nil {
			return store.SearchResult{}, err
		}
		sr.Segment.Embedding = vec.Slice()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	return results, nil
}

// Segments implements store.Store.
func (s *Store) Segments(ctx context.Context, meetingID string) ([]store.Segment, error) {
	const q = `
		SELECT id, meeting_id, text, created_at, confidence
		FROM   meeting_segments
		WHERE  meeting_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list segments: %w", err)
	}

	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Segment, error) {
		var seg store.Segment
		err := row.Scan(&seg.ID, &seg.MeetingID, &seg.Text, &seg.CreatedAt, &seg.Confidence)
		return seg, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if segs == nil {
		segs = []store.Segment{}
	}
	return segs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
