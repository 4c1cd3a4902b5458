package audio_test

import (
	"testing"
	"time"

	"github.com/mkarols/notula/pkg/audio"
)

// counting returns n samples whose values encode their global index starting
// at offset, so ordering bugs show up as non-contiguous runs.
func counting(offset, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(offset + i)
	}
	return out
}

func assertContiguous(t *testing.T, got []float32, first float32) {
	t.Helper()
	for i, v := range got {
		if v != first+float32(i) {
			t.Fatalf("sample %d = %v, want %v (ordering corrupted)", i, v, first+float32(i))
		}
	}
}

func TestRingBuffer_RoundTripUnderCapacity(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(1000, time.Second) // capacity 1000
	rb.Append(counting(0, 300))
	rb.Append(counting(300, 200))
	rb.Append(counting(500, 100))

	got := rb.Read()
	if len(got) != 600 {
		t.Fatalf("Read returned %d samples, want 600", len(got))
	}
	assertContiguous(t, got, 0)
}

func TestRingBuffer_OverflowKeepsNewest(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(1000, time.Second)
	total := 0
	// Frame lengths deliberately do not divide the capacity evenly.
	for _, n := range []int{333, 333, 333, 333, 128} {
		rb.Append(counting(total, n))
		total += n
	}

	got := rb.Read()
	if len(got) != rb.Cap() {
		t.Fatalf("Read returned %d samples, want full capacity %d", len(got), rb.Cap())
	}
	// Oldest samples are discarded; the survivors are the last 1000.
	assertContiguous(t, got, float32(total-rb.Cap()))
}

func TestRingBuffer_AppendLargerThanCapacity(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(100, time.Second) // capacity 100
	rb.Append(counting(0, 50))
	rb.Append(counting(50, 450))

	got := rb.Read()
	if len(got) != 100 {
		t.Fatalf("Read returned %d samples, want 100", len(got))
	}
	assertContiguous(t, got, 400)
}

func TestRingBuffer_EmptyAndReset(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(100, time.Second)
	if got := rb.Read(); got != nil {
		t.Fatalf("Read on empty buffer = %v, want nil", got)
	}

	rb.Append(counting(0, 250))
	rb.Reset()
	if got := rb.Read(); got != nil {
		t.Fatalf("Read after Reset = %v, want nil", got)
	}
	if rb.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", rb.Len())
	}

	// A reset buffer behaves like a fresh one.
	rb.Append(counting(0, 10))
	got := rb.Read()
	if len(got) != 10 {
		t.Fatalf("Read after Reset+Append returned %d samples, want 10", len(got))
	}
	assertContiguous(t, got, 0)
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(0, time.Second)
	rb.Append(counting(0, 10))
	if got := rb.Read(); got != nil {
		t.Fatalf("Read on zero-capacity buffer = %v, want nil", got)
	}
}
