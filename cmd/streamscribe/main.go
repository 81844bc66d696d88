// Command streamscribe streams a WAV file to the transcription service and
// prints the transcripts it returns.
//
// Usage:
//
//	VERBIT_WS_TOKEN=... streamscribe [flags] file.wav
//
// The first SIGINT ends the audio early and waits for the final responses;
// a second one stops the session immediately.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/health"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/streaming"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes from sysexits.h.
const (
	exitOK       = 0
	exitUsage    = 64
	exitNoInput  = 66
	exitSoftware = 70
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	configPath string
	insecure   bool
	wsURL      string
	types      string
	realtime   bool
	wavPath    string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("streamscribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to the YAML configuration file")
	fs.BoolVar(&o.insecure, "k", false, "do not verify the server certificate")
	fs.BoolVar(&o.insecure, "insecure", false, "same as -k")
	fs.StringVar(&o.wsURL, "u", "", "service WebSocket URL (overrides the config)")
	fs.StringVar(&o.wsURL, "ws-url", "", "same as -u")
	fs.StringVar(&o.types, "types", "", `response types, e.g. "Transcript,Captions" (overrides the config)`)
	fs.BoolVar(&o.realtime, "realtime", true, "send audio no faster than it plays")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s=<token> streamscribe [flags] file.wav\n", config.EnvToken)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one WAV file is required")
	}
	o.wavPath = fs.Arg(0)
	return &o, nil
}

// loadConfig reads the config file and layers the command line on top.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.wsURL != "" {
		cfg.Service.WSURL = o.wsURL
	}
	if o.insecure {
		cfg.Service.VerifySSLCert = false
	}
	if o.types != "" {
		cfg.ResponseTypes = o.types
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Service.Token == "" {
		return nil, fmt.Errorf("no access token: set %s", config.EnvToken)
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── Command line and configuration ────────────────────────────────────────
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "streamscribe: %v\n", err)
		return exitUsage
	}

	// Registered before any setup so an early interrupt is not fatal. The
	// buffer holds both signals until handleSignals runs.
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "streamscribe: %v\n", err)
		if errors.Is(err, os.ErrNotExist) {
			return exitNoInput
		}
		return exitUsage
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logCloser, err := observe.NewLogger(cfg.LogSettings())
	if err != nil {
		fmt.Fprintf(stderr, "streamscribe: %v\n", err)
		return exitUsage
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	// ── Audio source ──────────────────────────────────────────────────────────
	media := cfg.StreamingMedia()
	types, _ := cfg.ResponseTypeSet() // validated by loadConfig

	f, err := os.Open(opts.wavPath)
	if err != nil {
		fmt.Fprintf(stderr, "streamscribe: %v\n", err)
		return exitNoInput
	}
	defer f.Close()

	producer, err := audio.NewWAVProducer(f, media, audio.WithRealtime(opts.realtime))
	if err != nil {
		fmt.Fprintf(stderr, "streamscribe: %s: %v\n", opts.wavPath, err)
		if errors.Is(err, audio.ErrUnsupportedTarget) {
			return exitUsage
		}
		return exitNoInput
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx := context.Background()
	var (
		registry  *prometheus.Registry
		providers *observe.Providers
	)
	if cfg.Metrics.ListenAddr != "" {
		registry = prometheus.NewRegistry()
		providers, err = observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: version,
			Registerer:     registry,
		})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return exitSoftware
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Session ───────────────────────────────────────────────────────────────
	printer := &transcriptPrinter{w: stdout}
	clientOpts := append(cfg.ClientOptions(),
		streaming.WithLogger(logger),
		streaming.WithResponseHandler(printer.handle),
	)
	if providers != nil {
		clientOpts = append(clientOpts, streaming.WithMetrics(providers.Meter))
	}
	client, err := streaming.New(cfg.Service.Token, clientOpts...)
	if err != nil {
		slog.Error("failed to create client", "err", err)
		return exitSoftware
	}

	if providers != nil {
		opsMetrics, err := observe.NewMetrics(providers.Meter)
		if err != nil {
			slog.Error("failed to create ops metrics", "err", err)
			return exitSoftware
		}
		ln, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
		if err != nil {
			slog.Error("ops server listen failed", "addr", cfg.Metrics.ListenAddr, "err", err)
			return exitSoftware
		}
		srv := startOpsServer(ln, registry, opsMetrics, client)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	done := make(chan struct{})
	defer close(done)
	go handleSignals(sigc, done, producer, client)

	slog.Info("streamscribe starting",
		"version", version,
		"file", opts.wavPath,
		"url", client.URL(),
		"media", media,
		"response_types", types,
	)

	if err := client.RunWith(ctx, producer, media, types); err != nil {
		slog.Error("session failed", "code", client.ErrorCode(), "reason", client.ServiceError())
		fmt.Fprintf(stderr, "streamscribe: %v\n", err)
		return exitSoftware
	}
	slog.Info("session complete", "responses", printer.count())
	return exitOK
}

// handleSignals finishes the audio on the first interrupt and stops the
// session on the second.
func handleSignals(sigc <-chan os.Signal, done <-chan struct{}, producer *audio.WAVProducer, client *streaming.Client) {
	for n := 0; ; n++ {
		select {
		case <-done:
			return
		case sig := <-sigc:
			if n == 0 {
				slog.Info("finishing audio; interrupt again to stop immediately", "signal", sig)
				producer.Finish()
				continue
			}
			slog.Info("stopping session", "signal", sig)
			client.Stop()
			return
		}
	}
}

// startOpsServer serves /metrics, /healthz and /readyz on ln.
func startOpsServer(ln net.Listener, registry *prometheus.Registry, m *observe.Metrics, client *streaming.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	health.New(health.SessionChecker("session", client)).Register(mux)

	sessionState := func() string { return client.State().String() }
	srv := &http.Server{
		Handler:           observe.Middleware(m, sessionState)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("ops server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "err", err)
		}
	}()
	return srv
}

// transcriptPrinter writes final responses as one line each.
type transcriptPrinter struct {
	w io.Writer

	mu sync.Mutex
	n  int
}

func (p *transcriptPrinter) handle(_ *streaming.Client, msg *streaming.Message) {
	r := msg.Response
	if r == nil || !r.IsFinal {
		return
	}
	text := r.Transcript()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	if text == "" {
		return
	}
	var start float64
	if len(r.Alternatives[0].Items) > 0 {
		start = r.Alternatives[0].Items[0].Start
	}
	marker := ""
	if r.IsEndOfStream {
		marker = " (end)"
	}
	fmt.Fprintf(p.w, "[%s %8.2fs]%s %s\n", r.Type, start, marker, text)
}

func (p *transcriptPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
