package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/mkarols/notula/pkg/audio"
)

func TestResample_Identity(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("identity resample changed sample %d: %v -> %v", i, in[i], out[i])
		}
	}
}

func TestResample_Downsample3to1(t *testing.T) {
	t.Parallel()

	in := make([]float32, 48000)
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 16000 {
		t.Fatalf("resample 48k->16k returned %d samples, want 16000", len(out))
	}
}

func TestResample_PreservesConstantSignal(t *testing.T) {
	t.Parallel()

	in := make([]float32, 4410)
	for i := range in {
		in[i] = 0.5
	}
	out := audio.Resample(in, 44100, 16000)
	for i, v := range out {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.5 (linear interpolation of a constant)", i, v)
		}
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want float32
	}{
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{-1, -1},
		{1.7, 1},
		{-3.2, -1},
	}
	for _, c := range cases {
		if got := audio.Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEncodePCM16(t *testing.T) {
	t.Parallel()

	out := audio.EncodePCM16([]float32{0, 1, -1, 2, -2})
	if len(out) != 10 {
		t.Fatalf("encoded %d bytes, want 10", len(out))
	}

	want := []int16{0, 32767, -32768, 32767, -32768}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != w {
			t.Errorf("sample %d encoded as %d, want %d", i, got, w)
		}
	}
}

func TestEncodePCM16_EmptyInputIsNoop(t *testing.T) {
	t.Parallel()

	if out := audio.EncodePCM16(nil); out != nil {
		t.Fatalf("EncodePCM16(nil) = %v, want nil", out)
	}
	if out := audio.EncodePCM16([]float32{}); out != nil {
		t.Fatalf("EncodePCM16(empty) = %v, want nil", out)
	}
}

func TestDecodePCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.99, -0.99}
	back := audio.DecodePCM16(audio.EncodePCM16(in))
	if len(back) != len(in) {
		t.Fatalf("round trip changed length: %d -> %d", len(in), len(back))
	}
	for i := range in {
		if math.Abs(float64(back[i]-in[i])) > 1.0/32000 {
			t.Errorf("sample %d round-tripped as %v, want ~%v", i, back[i], in[i])
		}
	}
}
