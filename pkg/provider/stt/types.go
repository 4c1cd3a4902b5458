package stt

// Segment is one fragment of transcribed text within a Message.
type Segment struct {
	// Text is the transcribed content.
	Text string

	// Completed marks the segment as final (authoritative). Segments with
	// Completed=false are interim and likely to change.
	Completed bool

	// Confidence is the backend's confidence score (0.0–1.0), zero when the
	// backend does not report one.
	Confidence float64
}

// Message is a single parsed transcription event from the backend. Backends
// that report a flat {type, text} shape are normalized into a Message holding
// one completed segment.
type Message struct {
	// Segments holds the fragments carried by this message, in backend order.
	Segments []Segment
}
