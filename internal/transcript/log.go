// Package transcript maintains the reconciled meeting transcript: an ordered
// log of finalized segments plus at most one interim (in-progress) line, and
// the reconciliation rules that turn raw backend messages into log updates.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Segment is one finalized transcript line. Segments are immutable once
// appended and are never reordered.
type Segment struct {
	// ID is a fresh identifier assigned at append time.
	ID string

	// Text is the finalized utterance text.
	Text string

	// CreatedAt is the wall-clock append time, used by the export format.
	CreatedAt time.Time

	// Confidence is the backend-reported confidence attached at append time.
	Confidence float64
}

// LogOption configures a [Log].
type LogOption func(*Log)

// WithNotify registers a callback invoked exactly once per visible change:
// every segment append and every interim update that alters the interim text.
// The callback runs synchronously under the log's lock and must not call back
// into the log.
func WithNotify(fn func()) LogOption {
	return func(l *Log) { l.notify = fn }
}

// WithLogClock overrides the append-timestamp source, for tests.
func WithLogClock(clock func() time.Time) LogOption {
	return func(l *Log) { l.clock = clock }
}

// Log is the observable transcript state. It is safe for concurrent use; the
// reconciler writes it while exporters and the suggestion scheduler read it.
type Log struct {
	mu       sync.RWMutex
	segments []Segment
	interim  string

	notify func()
	clock  func() time.Time
}

// NewLog creates an empty transcript log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{clock: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append finalizes text as a new segment and clears the interim line. The
// created segment is returned.
func (l *Log) Append(text string, confidence float64) Segment {
	l.mu.Lock()
	defer l.mu.Unlock()

	seg := Segment{
		ID:         uuid.NewString(),
		Text:       text,
		CreatedAt:  l.clock(),
		Confidence: confidence,
	}
	l.segments = append(l.segments, seg)
	l.interim = ""
	if l.notify != nil {
		l.notify()
	}
	return seg
}

// SetInterim replaces the interim line. Setting the same text again is a
// no-op and does not notify. Pass "" to clear.
func (l *Log) SetInterim(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interim == text {
		return
	}
	l.interim = text
	if l.notify != nil {
		l.notify()
	}
}

// Interim returns the current in-progress line, or "".
func (l *Log) Interim() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.interim
}

// Segments returns a copy of all finalized segments in append order.
func (l *Log) Segments() []Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// Len returns the number of finalized segments.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// Last returns the most recently appended segment and whether one exists.
func (l *Log) Last() (Segment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.segments) == 0 {
		return Segment{}, false
	}
	return l.segments[len(l.segments)-1], true
}

// Text returns the finalized transcript as a single space-joined string,
// without the interim line.
func (l *Log) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	parts := make([]string, len(l.segments))
	for i, s := range l.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// WordCount returns the total whitespace-separated word count across all
// finalized segments.
func (l *Log) WordCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int
	for _, s := range l.segments {
		n += len(strings.Fields(s.Text))
	}
	return n
}

// Clear discards all segments and the interim line.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := len(l.segments) > 0 || l.interim != ""
	l.segments = nil
	l.interim = ""
	if changed && l.notify != nil {
		l.notify()
	}
}

// WriteTo renders the finalized transcript, one "[HH:MM:SS] text" line per
// segment using each segment's creation time. The interim line is not
// exported. Implements [io.WriterTo].
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, s := range l.segments {
		n, err := fmt.Fprintf(w, "[%s] %s\n", s.CreatedAt.Format("15:04:05"), s.Text)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
