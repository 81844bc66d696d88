package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/streamscribe/pkg/streaming"
)

// DefaultChunkDuration is the amount of audio returned by one call to
// [WAVProducer.Chunk].
const DefaultChunkDuration = 100 * time.Millisecond

// ErrUnsupportedTarget is returned by [NewWAVProducer] when the session media
// format is not 16-bit little-endian PCM.
var ErrUnsupportedTarget = errors.New("audio: session media must be S16LE with sample width 2")

var _ streaming.ChunkProducer = (*WAVProducer)(nil)

// WAVOption configures a [WAVProducer].
type WAVOption func(*WAVProducer)

// WithChunkDuration sets how much audio each chunk holds.
func WithChunkDuration(d time.Duration) WAVOption {
	return func(p *WAVProducer) { p.chunkDur = d }
}

// WithRealtime controls pacing. When on (the default) chunks are handed out
// no faster than the audio plays; when off the file is read as fast as the
// session accepts it.
func WithRealtime(on bool) WAVOption {
	return func(p *WAVProducer) { p.realtime = on }
}

// WithWAVLogger sets the logger. Default: [slog.Default].
func WithWAVLogger(l *slog.Logger) WAVOption {
	return func(p *WAVProducer) { p.log = l }
}

// WAVProducer streams the data chunk of a WAV file as session audio,
// converted to the session's sample rate and channel count.
//
// Chunk is called by the session's media pump only; Finish and Finished may
// be called from any goroutine.
type WAVProducer struct {
	header WAVHeader
	data   io.Reader
	conv   *Converter
	buf    []byte

	chunkDur time.Duration
	realtime bool
	log      *slog.Logger

	start  time.Time
	offset time.Duration

	finished atomic.Bool
}

// NewWAVProducer reads the WAV header from r and returns a producer for the
// audio that follows. target is the session's media format.
func NewWAVProducer(r io.Reader, target streaming.MediaConfig, opts ...WAVOption) (*WAVProducer, error) {
	if !strings.EqualFold(target.Format, streaming.DefaultFormat) || target.SampleWidth != sampleBytes {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedTarget, target)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	h, err := ReadWAVHeader(r)
	if err != nil {
		return nil, err
	}

	p := &WAVProducer{
		header:   h,
		data:     r,
		conv:     NewConverter(Format{SampleRate: target.SampleRate, Channels: target.NumChannels}),
		chunkDur: DefaultChunkDuration,
		realtime: true,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if h.DataSize >= 0 {
		p.data = io.LimitReader(r, h.DataSize)
	}

	frames := max(1, int(int64(h.Format.SampleRate)*int64(p.chunkDur)/int64(time.Second)))
	p.buf = make([]byte, frames*h.Format.FrameSize())

	p.log.Info("wav source",
		"format", h.Format,
		"data_bytes", h.DataSize,
		"target", p.conv.Target,
		"chunk", p.chunkDur,
	)
	return p, nil
}

// Header returns the parsed WAV header.
func (p *WAVProducer) Header() WAVHeader { return p.header }

// Chunk returns the next block of converted audio. In realtime mode it
// blocks until the block is due. It returns an empty chunk once the producer
// is finished.
func (p *WAVProducer) Chunk() ([]byte, error) {
	if p.finished.Load() {
		return nil, nil
	}

	n, err := io.ReadFull(p.data, p.buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		p.finished.Store(true)
	case err != nil:
		return nil, fmt.Errorf("audio: read wav data: %w", err)
	}

	fs := p.header.Format.FrameSize()
	if rem := n % fs; rem != 0 {
		p.log.Warn("dropping incomplete trailing frame", "bytes", rem)
		n -= rem
	}
	if n == 0 {
		return nil, nil
	}

	frame := Frame{
		Data:   append([]byte(nil), p.buf[:n]...),
		Format: p.header.Format,
		Offset: p.offset,
	}
	p.pace()
	p.offset += frame.Duration()

	out, err := p.conv.Convert(frame)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// pace sleeps until the audio at the current offset is due.
func (p *WAVProducer) pace() {
	if !p.realtime {
		return
	}
	if p.start.IsZero() {
		p.start = time.Now()
		return
	}
	if wait := time.Until(p.start.Add(p.offset)); wait > 0 {
		time.Sleep(wait)
	}
}

// Finished reports whether all audio has been handed out or [Finish] was
// called.
func (p *WAVProducer) Finished() bool { return p.finished.Load() }

// Finish ends the stream early. The session then performs its normal
// end-of-stream handshake.
func (p *WAVProducer) Finish() {
	if !p.finished.Swap(true) {
		p.log.Info("audio finished early", "offset", p.offset)
	}
}
