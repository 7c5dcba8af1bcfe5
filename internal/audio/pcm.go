package audio

import "time"

// OP25 emits decoded narrowband audio as raw 16-bit little-endian mono PCM
// at 8 kHz. The shim never converts formats; these constants describe the
// one format flowing through the whole pipeline.
const (
	SampleRate     = 8000
	BytesPerSample = 2
	Channels       = 1
	BitDepth       = 16

	// FrameDuration is the fixed output cadence. Every write to the
	// downstream consumer is exactly one frame.
	FrameDuration = 20 * time.Millisecond

	FrameSamples = SampleRate * 20 / 1000 // 160
	FrameBytes   = FrameSamples * BytesPerSample
)

// BytesForDuration returns the buffer size in bytes covering d of audio,
// rounded down to a whole sample.
func BytesForDuration(d time.Duration) int {
	samples := int(d * SampleRate / time.Second)
	return samples * BytesPerSample
}
