// Package audio reads PCM audio from WAV files and feeds it to a streaming
// session at the pace it was recorded.
//
// All processing works on interleaved 16-bit little-endian PCM. A
// [Converter] adapts sample rate and channel count between formats, and a
// [WAVProducer] implements [streaming.ChunkProducer] on top of a WAV stream.
package audio

import (
	"fmt"
	"time"
)

// sampleBytes is the size of one 16-bit sample.
const sampleBytes = 2

// Format describes interleaved 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the size in bytes of one sample for every channel.
func (f Format) FrameSize() int { return sampleBytes * f.Channels }

// BytesPerSecond returns the data rate of f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Duration returns the play time of n bytes of audio in f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := fmt.Sprintf("%dch", f.Channels)
	switch f.Channels {
	case 1:
		ch = "mono"
	case 2:
		ch = "stereo"
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a block of PCM audio.
type Frame struct {
	Data   []byte
	Format Format

	// Offset is the position of the first sample relative to the start of
	// the stream.
	Offset time.Duration
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration { return f.Format.Duration(len(f.Data)) }
