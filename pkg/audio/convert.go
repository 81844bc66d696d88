package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrMisaligned is returned by [Converter.Convert] when a frame does not hold
// a whole number of sample frames.
var ErrMisaligned = errors.New("audio: pcm data is not frame aligned")

// Converter converts a stream of frames to a target format. Resampling
// carries its position across calls, so frames of one stream must go
// through the same Converter in order. Not safe for concurrent use.
type Converter struct {
	Target Format

	rs             *resampler
	warnedMismatch sync.Once
}

// NewConverter returns a Converter producing target.
func NewConverter(target Format) *Converter {
	return &Converter{Target: target}
}

// Convert returns frame in the target format. A frame already in the target
// format is returned unchanged.
func (c *Converter) Convert(frame Frame) (Frame, error) {
	src := frame.Format
	if src.Channels <= 0 || src.SampleRate <= 0 {
		return Frame{}, fmt.Errorf("audio: invalid source format %s", src)
	}
	if len(frame.Data)%src.FrameSize() != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes of %s", ErrMisaligned, len(frame.Data), src)
	}
	if src == c.Target {
		return frame, nil
	}
	c.warnedMismatch.Do(func() {
		slog.Info("converting audio", "from", src, "to", c.Target)
	})

	samples := decode(frame.Data)
	channels := src.Channels

	// Fewer channels first, so that less data is resampled.
	if c.Target.Channels < channels {
		samples = remix(samples, channels, c.Target.Channels)
		channels = c.Target.Channels
	}
	if src.SampleRate != c.Target.SampleRate {
		if c.rs == nil || c.rs.channels != channels || c.rs.src != src.SampleRate {
			c.rs = newResampler(src.SampleRate, c.Target.SampleRate, channels)
		}
		samples = c.rs.process(samples)
	}
	if c.Target.Channels > channels {
		samples = remix(samples, channels, c.Target.Channels)
	}

	return Frame{
		Data:   encode(samples),
		Format: c.Target,
		Offset: frame.Offset,
	}, nil
}

func decode(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/sampleBytes)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*sampleBytes:]))
	}
	return out
}

func encode(samples []int16) []byte {
	out := make([]byte, len(samples)*sampleBytes)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*sampleBytes:], uint16(s))
	}
	return out
}

// remix maps interleaved samples from srcCh to dstCh channels. When
// reducing, output channel c is the mean of the source channels j with
// j%dstCh == c, so any layout folds down to mono. When expanding, output
// channel c copies source channel c%srcCh.
func remix(samples []int16, srcCh, dstCh int) []int16 {
	if srcCh == dstCh {
		return samples
	}
	frames := len(samples) / srcCh
	out := make([]int16, frames*dstCh)
	for f := range frames {
		in := samples[f*srcCh : (f+1)*srcCh]
		dst := out[f*dstCh : (f+1)*dstCh]
		if dstCh > srcCh {
			for c := range dst {
				dst[c] = in[c%srcCh]
			}
			continue
		}
		for c := range dst {
			var sum, n int32
			for j := c; j < srcCh; j += dstCh {
				sum += int32(in[j])
				n++
			}
			dst[c] = int16(sum / n)
		}
	}
	return out
}

// resampler is a streaming linear-interpolation resampler for interleaved
// samples.
type resampler struct {
	src, dst int
	channels int
	step     float64

	// prev is the last input frame of the previous call and pos the
	// position of the next output frame, with index 0 being prev.
	prev []int16
	pos  float64
}

func newResampler(src, dst, channels int) *resampler {
	return &resampler{
		src:      src,
		dst:      dst,
		channels: channels,
		step:     float64(src) / float64(dst),
	}
}

func (r *resampler) process(samples []int16) []int16 {
	ch := r.channels
	buf := samples
	if r.prev != nil {
		buf = append(append(make([]int16, 0, len(r.prev)+len(samples)), r.prev...), samples...)
	}
	n := len(buf) / ch
	if n == 0 {
		return nil
	}

	out := make([]int16, 0, int(float64(n)/r.step+1)*ch)
	for r.pos < float64(n-1) {
		i := int(r.pos)
		frac := r.pos - float64(i)
		for c := range ch {
			s0 := float64(buf[i*ch+c])
			s1 := float64(buf[(i+1)*ch+c])
			out = append(out, int16(s0+(s1-s0)*frac))
		}
		r.pos += r.step
	}

	r.pos -= float64(n - 1)
	r.prev = append(r.prev[:0], buf[(n-1)*ch:n*ch]...)
	return out
}
