package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [Load].
const (
	EnvToken = "VERBIT_WS_TOKEN"
	EnvWSURL = "STREAMSCRIBE_WS_URL"
)

// Load builds the configuration from the YAML file at path, or from
// [Default] when path is empty, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the result.
// It does not consult the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides the token and service URL from the environment. lookup
// has the signature of [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvToken); ok && v != "" {
		cfg.Service.Token = v
	}
	if v, ok := lookup(EnvWSURL); ok && v != "" {
		slog.Debug("service url overridden from environment", "env", EnvWSURL)
		cfg.Service.WSURL = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found. A missing token is not an error
// here; callers decide whether they need one.
func Validate(cfg *Config) error {
	var errs []error

	// Service
	if u, err := url.Parse(cfg.Service.WSURL); err != nil {
		errs = append(errs, fmt.Errorf("service.ws_url %q is invalid: %w", cfg.Service.WSURL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.ws_url %q must use the ws or wss scheme", cfg.Service.WSURL))
	}
	if cfg.Service.MaxConnectionRetry < 0 {
		errs = append(errs, fmt.Errorf("service.max_connection_retry %s must not be negative", cfg.Service.MaxConnectionRetry))
	}
	if cfg.Service.InitialRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("service.initial_retry_delay %s must be positive", cfg.Service.InitialRetryDelay))
	}
	if cfg.Service.KeepaliveTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.keepalive_timeout %s must not be negative", cfg.Service.KeepaliveTimeout))
	}
	if cfg.Service.EOSTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.eos_timeout %s must not be negative", cfg.Service.EOSTimeout))
	}
	if !cfg.Service.VerifySSLCert {
		slog.Warn("service.verify_ssl_cert is off; the server certificate will not be checked")
	}

	// Media
	if err := cfg.StreamingMedia().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("media: %w", err))
	}

	// Response types
	if _, err := cfg.ResponseTypeSet(); err != nil {
		errs = append(errs, fmt.Errorf("response_types: %w", err))
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.AccessLog != "" && cfg.Log.AccessLog == cfg.Log.ErrorLog {
		slog.Warn("log.access_log and log.error_log point to the same file", "path", cfg.Log.AccessLog)
	}

	return errors.Join(errs...)
}
