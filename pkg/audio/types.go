package audio

import "time"

// Frame represents a single block of mono audio samples delivered by a capture
// source. Frames are the atomic unit of audio transport in the pipeline:
// captured from the microphone, classified by VAD, buffered by the segmenter,
// and eventually resampled and encoded for transmission.
//
// Samples are 32-bit floats in [-1, 1]. A Frame handed to a pipeline stage is
// only valid for the duration of that call — capture sources may reuse the
// backing array, so stages that need the data longer must copy it.
type Frame struct {
	// Samples is the raw mono PCM data.
	Samples []float32

	// SampleRate in Hz as reported by the capture device (not assumed fixed).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
