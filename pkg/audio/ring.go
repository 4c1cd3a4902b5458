package audio

import "time"

// RingBuffer is a fixed-capacity circular buffer of float32 samples used as a
// pre-speech lookback: it always holds the most recent capacity samples so
// that the onset of an utterance — which precedes VAD confirmation — can be
// recovered when speech is confirmed.
//
// A RingBuffer is owned by a single pipeline goroutine and is not safe for
// concurrent use.
type RingBuffer struct {
	buf     []float32
	cursor  int
	wrapped bool
}

// NewRingBuffer allocates a buffer holding duration worth of samples at
// sampleRate. A non-positive size yields an empty buffer whose Read returns
// nil and whose Append is a no-op.
func NewRingBuffer(sampleRate int, duration time.Duration) *RingBuffer {
	n := int(int64(sampleRate) * int64(duration) / int64(time.Second))
	if n < 0 {
		n = 0
	}
	return &RingBuffer{buf: make([]float32, n)}
}

// Cap returns the buffer capacity in samples.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Append copies samples into the buffer at the write cursor, wrapping and
// splitting the copy across the boundary as needed. Input of arbitrary
// length is accepted, including inputs larger than the capacity — only the
// most recent capacity samples survive.
func (r *RingBuffer) Append(samples []float32) {
	if len(r.buf) == 0 || len(samples) == 0 {
		return
	}
	// An input larger than the capacity fully replaces the contents; only its
	// tail is retained.
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.cursor = 0
		r.wrapped = true
		return
	}
	for len(samples) > 0 {
		n := copy(r.buf[r.cursor:], samples)
		samples = samples[n:]
		r.cursor += n
		if r.cursor == len(r.buf) {
			r.cursor = 0
			r.wrapped = true
		}
	}
}

// Read returns the buffered samples in chronological order: [0, cursor) when
// the buffer has not yet wrapped, otherwise [cursor, cap) followed by
// [0, cursor). The result is a copy; mutating it does not affect the buffer.
// Returns nil when the buffer is empty.
func (r *RingBuffer) Read() []float32 {
	if len(r.buf) == 0 {
		return nil
	}
	if !r.wrapped {
		if r.cursor == 0 {
			return nil
		}
		out := make([]float32, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}
	out := make([]float32, len(r.buf))
	n := copy(out, r.buf[r.cursor:])
	copy(out[n:], r.buf[:r.cursor])
	return out
}

// Len returns the number of valid samples currently buffered.
func (r *RingBuffer) Len() int {
	if r.wrapped {
		return len(r.buf)
	}
	return r.cursor
}

// Reset restores the buffer to its freshly-allocated state.
func (r *RingBuffer) Reset() {
	r.cursor = 0
	r.wrapped = false
}
