// Package capture abstracts microphone audio acquisition. A Source starts
// sessions that stream raw 32-bit float little-endian mono PCM; FrameReader
// slices that stream into fixed-duration frames for the pipeline.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/mkarols/notula/pkg/audio"
)

// Config describes the desired capture stream.
type Config struct {
	// SampleRate is the capture rate in Hz. Default 48000.
	SampleRate int

	// Channels is the channel count; the pipeline is mono. Default 1.
	Channels int

	// Format is the input backend passed to the capture tool (e.g. "pulse",
	// "alsa", "avfoundation"). Default "pulse".
	Format string

	// Device is the input device name. Default "default".
	Device string
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Format == "" {
		c.Format = "pulse"
	}
	if c.Device == "" {
		c.Device = "default"
	}
}

// Session is a live capture stream of f32le PCM. Read blocks until data is
// available; Stop terminates the stream, after which Read returns an error
// or io.EOF.
type Session interface {
	io.Reader

	// Stop terminates the capture and releases the device. Idempotent.
	Stop() error
}

// Source starts capture sessions.
type Source interface {
	// Start acquires the device and begins streaming. Cancelling ctx
	// terminates the session.
	Start(ctx context.Context, cfg Config) (Session, error)
}

// FrameReader slices a session's byte stream into fixed-duration frames.
//
// The returned frame's sample slice is reused between ReadFrame calls;
// consumers that retain samples past the next call must copy them.
type FrameReader struct {
	r          io.Reader
	sampleRate int
	buf        []byte
	samples    []float32
	elapsed    time.Duration
}

// NewFrameReader creates a reader producing frames of frameDuration audio at
// sampleRate. A non-positive duration selects 10 ms.
func NewFrameReader(r io.Reader, sampleRate int, frameDuration time.Duration) (*FrameReader, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", sampleRate)
	}
	if frameDuration <= 0 {
		frameDuration = 10 * time.Millisecond
	}
	n := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	if n <= 0 {
		n = 1
	}
	return &FrameReader{
		r:          r,
		sampleRate: sampleRate,
		buf:        make([]byte, n*4),
		samples:    make([]float32, n),
	}, nil
}

// ReadFrame blocks until a full frame has been read. A final partial frame
// at stream end is returned alongside io.EOF on the following call.
func (fr *FrameReader) ReadFrame() (audio.Frame, error) {
	n, err := io.ReadFull(fr.r, fr.buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return audio.Frame{}, err
	}
	samples := fr.samples[:n/4]
	for i := range samples {
		bits := binary.LittleEndian.Uint32(fr.buf[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	if len(samples) == 0 {
		return audio.Frame{}, io.EOF
	}

	frame := audio.Frame{
		Samples:    samples,
		SampleRate: fr.sampleRate,
		Timestamp:  fr.elapsed,
	}
	fr.elapsed += frame.Duration()
	return frame, nil
}
