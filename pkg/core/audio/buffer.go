package audio

import "sync"

// Buffer captures the caller's utterance between speech start and speech
// end. It is bounded: a write past capacity drops the oldest audio first,
// so a rambling caller yields the tail of the utterance rather than an
// unbounded allocation.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

// NewBuffer holds at most maxDurationMs of audio at cfg's byte rate.
func NewBuffer(cfg Config, maxDurationMs int) *Buffer {
	max := cfg.BytesForDurationMs(maxDurationMs)
	return &Buffer{data: make([]byte, 0, max), max: max}
}

// Write appends pcm, discarding the oldest bytes once over capacity.
func (b *Buffer) Write(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, pcm...)
	if excess := len(b.data) - b.max; excess > 0 {
		b.data = b.data[excess:]
	}
}

// Read returns a copy of the buffered audio.
func (b *Buffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Clear empties the buffer, keeping its capacity for the next utterance.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
