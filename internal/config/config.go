// Package config provides the YAML configuration schema and loader for the
// streamscribe CLI.
package config

import (
	"time"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/streaming"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader]; fields missing from the file keep the values of
// [Default].
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Media   MediaConfig   `yaml:"media"`

	// ResponseTypes is a comma-separated list such as "Transcript,Captions".
	ResponseTypes string `yaml:"response_types"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServiceConfig describes how to reach the transcription service.
type ServiceConfig struct {
	// Token is the bearer access token. Usually supplied through the
	// VERBIT_WS_TOKEN environment variable instead of the file.
	Token string `yaml:"token"`

	WSURL         string `yaml:"ws_url"`
	VerifySSLCert bool   `yaml:"verify_ssl_cert"`

	// MaxConnectionRetry is the total backoff budget for the initial
	// connection.
	MaxConnectionRetry time.Duration `yaml:"max_connection_retry"`

	InitialRetryDelay time.Duration `yaml:"initial_retry_delay"`

	// KeepaliveTimeout and EOSTimeout fall back to the client defaults when
	// zero.
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
	EOSTimeout       time.Duration `yaml:"eos_timeout"`
}

// MediaConfig mirrors [streaming.MediaConfig].
type MediaConfig struct {
	Format      string `yaml:"format"`
	SampleRate  int    `yaml:"sample_rate"`
	SampleWidth int    `yaml:"sample_width"`
	NumChannels int    `yaml:"num_channels"`
}

// LogConfig selects the log level and optional log files.
type LogConfig struct {
	Level LogLevel `yaml:"level"`

	// AccessLog receives records below warn, ErrorLog the rest. Either may be
	// empty, in which case that side goes to stderr.
	AccessLog string `yaml:"access_log"`
	ErrorLog  string `yaml:"error_log"`
}

// MetricsConfig configures the ops HTTP listener.
type MetricsConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when non-empty,
	// e.g. ":9090".
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	m := streaming.DefaultMediaConfig()
	return &Config{
		Service: ServiceConfig{
			WSURL:              streaming.DefaultURL,
			VerifySSLCert:      true,
			MaxConnectionRetry: streaming.DefaultMaxConnectionRetry,
			InitialRetryDelay:  streaming.DefaultInitialRetryDelay,
		},
		Media: MediaConfig{
			Format:      m.Format,
			SampleRate:  m.SampleRate,
			SampleWidth: m.SampleWidth,
			NumChannels: m.NumChannels,
		},
		ResponseTypes: streaming.DefaultResponseTypes.String(),
		Log:           LogConfig{Level: LogInfo},
	}
}

// StreamingMedia converts the media section.
func (c *Config) StreamingMedia() streaming.MediaConfig {
	return streaming.MediaConfig{
		Format:      c.Media.Format,
		SampleRate:  c.Media.SampleRate,
		SampleWidth: c.Media.SampleWidth,
		NumChannels: c.Media.NumChannels,
	}
}

// ResponseTypeSet parses ResponseTypes.
func (c *Config) ResponseTypeSet() (streaming.ResponseTypeSet, error) {
	return streaming.ParseResponseTypes(c.ResponseTypes)
}

// ClientOptions returns the [streaming.Option] values for the service
// section.
func (c *Config) ClientOptions() []streaming.Option {
	s := c.Service
	opts := []streaming.Option{
		streaming.WithURL(s.WSURL),
		streaming.WithVerifySSLCert(s.VerifySSLCert),
		streaming.WithMaxConnectionRetry(s.MaxConnectionRetry),
		streaming.WithInitialRetryDelay(s.InitialRetryDelay),
	}
	if s.KeepaliveTimeout > 0 {
		opts = append(opts, streaming.WithKeepaliveTimeout(s.KeepaliveTimeout))
	}
	if s.EOSTimeout > 0 {
		opts = append(opts, streaming.WithEOSTimeout(s.EOSTimeout))
	}
	return opts
}

// LogSettings converts the log section for [observe.NewLogger].
func (c *Config) LogSettings() observe.LogConfig {
	return observe.LogConfig{
		Level:     string(c.Log.Level),
		AccessLog: c.Log.AccessLog,
		ErrorLog:  c.Log.ErrorLog,
	}
}
