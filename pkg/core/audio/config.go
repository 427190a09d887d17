package audio

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. The telephony leg is always 8000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the telephony-leg audio configuration:
// 8kHz, 16-bit signed little-endian PCM, mono.
func DefaultConfig() Config {
	return Config{
		SampleRate:    8000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// FrameUnit returns the wire frame unit in bytes: one 20ms slice.
// For the default config this is 320 bytes.
func (c Config) FrameUnit() int {
	return c.BytesForDurationMs(20)
}
