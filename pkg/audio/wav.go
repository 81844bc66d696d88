package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotWAV is returned when a stream does not start with a RIFF/WAVE
	// header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

	// ErrUnsupportedWAV is returned for WAV encodings other than 16-bit
	// integer PCM.
	ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")
)

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE

	// Streaming writers that do not know the length in advance put this in
	// the data chunk size.
	wavUnknownSize = 0xFFFFFFFF

	// maxFmtChunk bounds the fmt chunk. Extensible headers use 40 bytes.
	maxFmtChunk = 1024
)

// WAVHeader describes the audio in a WAV stream.
type WAVHeader struct {
	Format        Format
	BitsPerSample int

	// DataSize is the length of the data chunk in bytes, or -1 when the
	// writer did not record it.
	DataSize int64
}

// ReadWAVHeader consumes the RIFF header and every chunk up to and including
// the header of the data chunk, leaving r at the first audio byte. Chunks
// other than "fmt " and "data" are skipped.
func ReadWAVHeader(r io.Reader) (WAVHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVHeader{}, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVHeader{}, ErrNotWAV
	}

	var (
		h      WAVHeader
		haveFm bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return WAVHeader{}, fmt.Errorf("audio: wav chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunk {
				return WAVHeader{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrNotWAV, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVHeader{}, fmt.Errorf("audio: wav fmt chunk: %w", err)
			}
			if err := skipPad(r, size); err != nil {
				return WAVHeader{}, err
			}
			if err := h.parseFmt(body); err != nil {
				return WAVHeader{}, err
			}
			haveFm = true

		case "data":
			if !haveFm {
				return WAVHeader{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			h.DataSize = int64(size)
			if size == wavUnknownSize {
				h.DataSize = -1
			}
			return h, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return WAVHeader{}, fmt.Errorf("audio: skip wav chunk %q: %w", id, err)
			}
			if err := skipPad(r, size); err != nil {
				return WAVHeader{}, err
			}
		}
	}
}

func (h *WAVHeader) parseFmt(b []byte) error {
	tag := binary.LittleEndian.Uint16(b[0:2])
	h.Format.Channels = int(binary.LittleEndian.Uint16(b[2:4]))
	h.Format.SampleRate = int(binary.LittleEndian.Uint32(b[4:8]))
	h.BitsPerSample = int(binary.LittleEndian.Uint16(b[14:16]))

	// WAVE_FORMAT_EXTENSIBLE carries the real format tag at the start of the
	// sub-format GUID.
	if tag == wavFormatExtensible && len(b) >= 26 {
		tag = binary.LittleEndian.Uint16(b[24:26])
	}
	switch {
	case tag != wavFormatPCM:
		return fmt.Errorf("%w: format tag %#04x", ErrUnsupportedWAV, tag)
	case h.BitsPerSample != 16:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, h.BitsPerSample)
	case h.Format.Channels <= 0 || h.Format.SampleRate <= 0:
		return fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedWAV, h.Format.Channels, h.Format.SampleRate)
	}
	return nil
}

// skipPad consumes the pad byte that follows odd-sized chunks.
func skipPad(r io.Reader, size uint32) error {
	if size%2 == 0 {
		return nil
	}
	var pad [1]byte
	if _, err := io.ReadFull(r, pad[:]); err != nil {
		return fmt.Errorf("audio: wav chunk padding: %w", err)
	}
	return nil
}
