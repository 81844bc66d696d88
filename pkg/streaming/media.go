package streaming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMediaConfig is returned when a [MediaConfig] cannot be rendered
// into connection parameters.
var ErrInvalidMediaConfig = errors.New("streaming: invalid media config")

// Default media parameters: signed 16-bit little-endian PCM, 16 kHz, mono.
const (
	DefaultFormat      = "S16LE"
	DefaultSampleRate  = 16000
	DefaultSampleWidth = 2
	DefaultNumChannels = 1
)

// MediaConfig describes the encoding of the audio sent by the client. The
// service does not inspect the audio itself; these values tell it how to
// interpret the bytes.
type MediaConfig struct {
	// Format is the encoding tag, e.g. "S16LE". Alphanumeric only.
	Format string

	// SampleRate is in Hz.
	SampleRate int

	// SampleWidth is the size of one sample in bytes.
	SampleWidth int

	// NumChannels is the channel count.
	NumChannels int
}

// DefaultMediaConfig returns S16LE 16 kHz mono.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Format:      DefaultFormat,
		SampleRate:  DefaultSampleRate,
		SampleWidth: DefaultSampleWidth,
		NumChannels: DefaultNumChannels,
	}
}

// Validate checks that the format tag is a non-empty alphanumeric string and
// that every numeric field is positive.
func (m MediaConfig) Validate() error {
	var errs []error
	if m.Format == "" {
		errs = append(errs, errors.New("format is empty"))
	} else if !isAlnum(m.Format) {
		errs = append(errs, fmt.Errorf("non-alphanumeric characters in format %q", m.Format))
	}
	if m.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", m.SampleRate))
	}
	if m.SampleWidth <= 0 {
		errs = append(errs, fmt.Errorf("sample_width %d must be positive", m.SampleWidth))
	}
	if m.NumChannels <= 0 {
		errs = append(errs, fmt.Errorf("num_channels %d must be positive", m.NumChannels))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMediaConfig, errors.Join(errs...))
	}
	return nil
}

// QueryParams renders the config as URL query parameters in a fixed order:
//
//	format=S16LE&sample_rate=16000&sample_width=2&num_channels=1
//
// The format tag is the only field that could need escaping, so it is
// rejected rather than encoded when it is not alphanumeric.
func (m MediaConfig) QueryParams() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("format=")
	b.WriteString(m.Format)
	b.WriteString("&sample_rate=")
	b.WriteString(strconv.Itoa(m.SampleRate))
	b.WriteString("&sample_width=")
	b.WriteString(strconv.Itoa(m.SampleWidth))
	b.WriteString("&num_channels=")
	b.WriteString(strconv.Itoa(m.NumChannels))
	return b.String(), nil
}

// BytesPerSecond returns the data rate of audio in this format.
func (m MediaConfig) BytesPerSecond() int {
	return m.SampleRate * m.SampleWidth * m.NumChannels
}

// String implements [fmt.Stringer].
func (m MediaConfig) String() string {
	return fmt.Sprintf("MediaConfig(format=%s sample_rate=%d sample_width=%d num_channels=%d)",
		m.Format, m.SampleRate, m.SampleWidth, m.NumChannels)
}

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
