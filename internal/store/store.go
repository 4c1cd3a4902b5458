// Package store persists finished meetings and their transcript segments and
// supports semantic recall over past segments.
//
// Persistence is optional: the application runs with no store at all, with
// the in-process [Memory] implementation, or with the PostgreSQL
// implementation in the postgres sub-package.
package store

import (
	"context"
	"time"
)

// Meeting is one recorded session.
type Meeting struct {
	ID        string
	Title     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Segment is one finalized transcript line belonging to a meeting. Embedding
// is optional; segments without one are excluded from semantic search.
type Segment struct {
	ID         string
	MeetingID  string
	Text       string
	CreatedAt  time.Time
	Confidence float64
	Embedding  []float32
}

// SearchResult pairs a segment with its cosine distance to the query vector;
// smaller is more similar.
type SearchResult struct {
	Segment  Segment
	Distance float64
}

// Filter narrows a segment search. Zero values mean no restriction.
type Filter struct {
	MeetingID string
	After     time.Time
	Before    time.Time
}

// Store is the persistence abstraction. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveMeeting inserts or updates a meeting record by ID.
	SaveMeeting(ctx context.Context, m Meeting) error

	// AppendSegment inserts or replaces a segment by ID.
	AppendSegment(ctx context.Context, seg Segment) error

	// SearchSegments returns up to topK embedded segments closest to the
	// query embedding by cosine distance, most similar first.
	SearchSegments(ctx context.Context, embedding []float32, topK int, f Filter) ([]SearchResult, error)

	// Segments returns all segments of a meeting in creation order.
	Segments(ctx context.Context, meetingID string) ([]Segment, error)

	// Close releases any held resources.
	Close() error
}
