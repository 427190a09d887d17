package audio

import (
	"math"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.BytesPerSecond(); got != 16000 {
		t.Errorf("BytesPerSecond() = %d, want 16000", got)
	}
	if got := cfg.FrameUnit(); got != 320 {
		t.Errorf("FrameUnit() = %d, want 320", got)
	}
	if got := cfg.DurationMs(3200); got != 200 {
		t.Errorf("DurationMs(3200) = %d, want 200", got)
	}
	if got := cfg.BytesForDurationMs(100); got != 1600 {
		t.Errorf("BytesForDurationMs(100) = %d, want 1600", got)
	}
}

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "max amplitude",
			samples:  []int16{32767, 32767, 32767, 32767},
			expected: 1.0,
		},
		{
			name:     "half amplitude",
			samples:  []int16{16384, 16384, 16384, 16384},
			expected: 0.5,
		},
		{
			name:     "mixed signal",
			samples:  []int16{16384, -16384, 16384, -16384},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				pcm[i*2] = byte(s & 0xFF)
				pcm[i*2+1] = byte((s >> 8) & 0xFF)
			}

			result := CalculateRMSEnergy(pcm)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestSilence_AlignedAndZeroed(t *testing.T) {
	cfg := DefaultConfig()
	buf := Silence(cfg, 200)
	if len(buf) != 3200 {
		t.Fatalf("len = %d, want 3200", len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	// Durations that do not land on a frame boundary round up.
	buf = Silence(cfg, 15)
	if len(buf)%cfg.FrameUnit() != 0 {
		t.Errorf("len = %d, not frame-aligned", len(buf))
	}
}

func TestAlignPCM(t *testing.T) {
	aligned := make([]byte, 640)
	if got := AlignPCM(aligned, 320); len(got) != 640 {
		t.Errorf("aligned input resized to %d", len(got))
	}

	ragged := make([]byte, 500)
	for i := range ragged {
		ragged[i] = 0xAB
	}
	got := AlignPCM(ragged, 320)
	if len(got) != 640 {
		t.Fatalf("len = %d, want 640", len(got))
	}
	if got[499] != 0xAB || got[500] != 0 {
		t.Error("padding should preserve data and zero-fill the tail")
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		unit     int
		maxBytes int
		wantLens []int
	}{
		{"single chunk", 3200, 320, 6400, []int{3200}},
		{"even split", 12800, 320, 6400, []int{6400, 6400}},
		{"remainder chunk", 16000, 320, 6400, []int{6400, 6400, 3200}},
		{"max rounded down to unit", 960, 320, 500, []int{320, 320, 320}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitChunks(make([]byte, tt.total), tt.unit, tt.maxBytes)
			if len(chunks) != len(tt.wantLens) {
				t.Fatalf("chunk count = %d, want %d", len(chunks), len(tt.wantLens))
			}
			for i, want := range tt.wantLens {
				if len(chunks[i]) != want {
					t.Errorf("chunk %d len = %d, want %d", i, len(chunks[i]), want)
				}
			}
		})
	}

	if chunks := SplitChunks(nil, 320, 6400); chunks != nil {
		t.Errorf("empty input should yield no chunks, got %d", len(chunks))
	}
}

func TestBuffer_TrimsOldest(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(cfg, 100) // 1600 bytes

	first := make([]byte, 1600)
	for i := range first {
		first[i] = 1
	}
	second := make([]byte, 800)
	for i := range second {
		second[i] = 2
	}

	buf.Write(first)
	buf.Write(second)

	data := buf.Read()
	if len(data) != 1600 {
		t.Fatalf("buffered %d bytes, want 1600", len(data))
	}
	if data[0] != 1 {
		t.Error("expected head of buffer to be remaining first-write data")
	}
	if data[len(data)-1] != 2 {
		t.Error("expected tail of buffer to be second-write data")
	}

	buf.Clear()
	if got := buf.Read(); len(got) != 0 {
		t.Errorf("buffered %d bytes after Clear, want 0", len(got))
	}
}
