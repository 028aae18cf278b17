package audio

import "time"

// Format describes the layout of a little-endian PCM stream.
type Format struct {
	// SampleRate in Hz (24000 for the realtime transport).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// BitsPerSample is the sample width. Only 16 is produced by this module.
	BitsPerSample int
}

// DefaultFormat is the wire format of the realtime transport: 24 kHz mono
// 16-bit PCM. Capture converts to it and playback expects it.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// BytesPerSecond returns the byte rate of f. Returns 0 for a zero Format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration returns the play time of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns a human-readable description, e.g. "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
