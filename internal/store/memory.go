package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store for single-machine setups and tests. Data
// does not survive a restart.
type Memory struct {
	mu       sync.RWMutex
	meetings map[string]Meeting
	segments []Segment
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{meetings: make(map[string]Meeting)}
}

// SaveMeeting implements Store.
func (m *Memory) SaveMeeting(ctx context.Context, meeting Meeting) error {
	if meeting.ID == "" {
		return fmt.Errorf("store: meeting ID must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings[meeting.ID] = meeting
	return nil
}

// AppendSegment implements Store.
func (m *Memory) AppendSegment(ctx context.Context, seg Segment) error {
	if seg.ID == "" {
		return fmt.Errorf("store: segment ID must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.segments {
		if existing.ID == seg.ID {
			m.segments[i] = seg
			return nil
		}
	}
	m.segments = append(m.segments, seg)
	return nil
}

// SearchSegments implements Store.
func (m *Memory) SearchSegments(ctx context.Context, embedding []float32, topK int, f Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.segments))
	for _, seg := range m.segments {
		if len(seg.Embedding) == 0 || !matches(seg, f) {
			continue
		}
		d, err := cosineDistance(embedding, seg.Embedding)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Segment: seg, Distance: d})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Segments implements Store.
func (m *Memory) Segments(ctx context.Context, meetingID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Segment{}
	for _, seg := range m.segments {
		if seg.MeetingID == meetingID {
			out = append(out, seg)
		}
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func matches(seg Segment, f Filter) bool {
	if f.MeetingID != "" && seg.MeetingID != f.MeetingID {
		return false
	}
	if !f.After.IsZero() && !seg.CreatedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !seg.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}

// cosineDistance returns 1 - cosine similarity, matching the ordering of
// pgvector's <=> operator.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("store: embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}
