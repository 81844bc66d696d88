package streaming

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/internal/observe"
)

// Defaults applied by [New].
const (
	DefaultURL                = "wss://speech.verbit.co/ws"
	DefaultMaxConnectionRetry = 60 * time.Second
	DefaultInitialRetryDelay  = time.Second
	DefaultKeepaliveTimeout   = 30 * time.Second
	DefaultKeepaliveInterval  = 5 * time.Second
	DefaultEOSTimeout         = 15 * time.Second
)

// KeepaliveTimeoutEnv names the environment variable that overrides
// [DefaultKeepaliveTimeout]. It accepts whole or fractional seconds ("45",
// "2.5") or a Go duration ("45s").
const KeepaliveTimeoutEnv = "STREAMSCRIBE_KEEPALIVE_TIMEOUT"

const (
	stopGrace   = 100 * time.Millisecond
	stopTimeout = time.Second

	// readLimit bounds a single inbound message.
	readLimit = 1 << 20
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithURL sets the base WebSocket URL. It may already carry a query string.
func WithURL(u string) Option {
	return func(c *Client) { c.wsURL = u }
}

// WithVerifySSLCert toggles TLS certificate verification. Disabling it is
// meant for tests against self-signed servers and leaves the connection open
// to interception.
func WithVerifySSLCert(verify bool) Option {
	return func(c *Client) { c.verifySSLCert = verify }
}

// WithRootCAs sets the certificate pool used to verify the service. Nil
// means the system pool.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) { c.rootCAs = pool }
}

// WithMaxConnectionRetry sets the budget of accumulated backoff delay spent
// retrying the initial connection. Zero or less means a single attempt.
func WithMaxConnectionRetry(d time.Duration) Option {
	return func(c *Client) { c.maxConnRetry = d }
}

// WithInitialRetryDelay sets the delay before the first reconnection
// attempt. Each further delay is 1.5 times the previous one. A non-positive
// delay is replaced with [DefaultInitialRetryDelay].
func WithInitialRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.initialRetryDelay = d }
}

// WithKeepaliveTimeout sets how long the session may go without a ping from
// the service. It takes precedence over [KeepaliveTimeoutEnv].
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(c *Client) { c.keepaliveTimeout = d }
}

// WithKeepaliveInterval sets how often the keepalive monitor checks liveness.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) { c.keepaliveInterval = d }
}

// WithEOSTimeout sets how long to wait, after sending end-of-stream, for the
// service to finish every requested response type.
func WithEOSTimeout(d time.Duration) Option {
	return func(c *Client) { c.eosTimeout = d }
}

// WithResponseHandler registers the callback invoked for every message.
func WithResponseHandler(h ResponseHandler) Option {
	return func(c *Client) { c.handler = h }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records session metrics through mp instead of the global
// meter provider.
func WithMetrics(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// Client runs one transcription session against the streaming service.
//
// A Client is single-use: after [Client.Run] has been called once, further
// calls return [ErrSessionUsed]. [Client.Stop], [Client.Close] and the
// accessors are safe for concurrent use. The setters must be called before
// Run.
type Client struct {
	token         string
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *observe.Metrics

	wsURL             string
	verifySSLCert     bool
	rootCAs           *x509.CertPool
	maxConnRetry      time.Duration
	initialRetryDelay time.Duration
	keepaliveTimeout  time.Duration
	keepaliveInterval time.Duration
	eosTimeout        time.Duration
	stopGrace         time.Duration
	stopTimeout       time.Duration
	handler           ResponseHandler

	state *SessionState

	liveMu   sync.Mutex
	lastPing time.Time

	spanMu sync.Mutex
	span   trace.Span

	mu      sync.Mutex
	conn    *websocket.Conn
	tracker *ResponseTracker
	cancel  context.CancelFunc
	closing bool // a local close has been initiated
	runDone chan struct{}
	code    int
	reason  string
}

// New creates a Client authenticating with the given access token.
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	c := &Client{
		token:             token,
		logger:            slog.Default(),
		wsURL:             DefaultURL,
		verifySSLCert:     true,
		maxConnRetry:      DefaultMaxConnectionRetry,
		initialRetryDelay: DefaultInitialRetryDelay,
		keepaliveTimeout:  DefaultKeepaliveTimeout,
		keepaliveInterval: DefaultKeepaliveInterval,
		eosTimeout:        DefaultEOSTimeout,
		stopGrace:         stopGrace,
		stopTimeout:       stopTimeout,
		state:             NewSessionState(),
	}
	if v := os.Getenv(KeepaliveTimeoutEnv); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			slog.Warn("ignoring invalid keepalive override", "env", KeepaliveTimeoutEnv, "value", v, "err", err)
		} else {
			c.keepaliveTimeout = d
		}
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "streaming")

	// A non-positive delay would never grow past the retry budget.
	if c.initialRetryDelay <= 0 {
		c.logger.Warn("non-positive initial retry delay, using default", "delay", c.initialRetryDelay, "default", DefaultInitialRetryDelay)
		c.initialRetryDelay = DefaultInitialRetryDelay
	}
	c.maxConnRetry = max(c.maxConnRetry, 0)
	if c.keepaliveTimeout <= 0 {
		c.keepaliveTimeout = DefaultKeepaliveTimeout
	}
	if c.keepaliveInterval <= 0 {
		c.keepaliveInterval = DefaultKeepaliveInterval
	}
	if c.eosTimeout <= 0 {
		c.eosTimeout = DefaultEOSTimeout
	}

	if c.meterProvider != nil {
		m, err := observe.NewMetrics(c.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("streaming: create metrics: %w", err)
		}
		c.metrics = m
	} else {
		c.metrics = observe.DefaultMetrics()
	}
	c.state.onChange = c.stateChanged
	return c, nil
}

// parseSeconds accepts "30", "2.5" or any [time.ParseDuration] string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// URL returns the base WebSocket URL.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsURL
}

// SetURL sets the base WebSocket URL.
func (c *Client) SetURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wsURL = u
}

// VerifySSLCert reports whether TLS certificates are verified.
func (c *Client) VerifySSLCert() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifySSLCert
}

// SetVerifySSLCert toggles TLS certificate verification. See [WithVerifySSLCert].
func (c *Client) SetVerifySSLCert(verify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifySSLCert = verify
}

// MaxConnectionRetry returns the connection retry budget.
func (c *Client) MaxConnectionRetry() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxConnRetry
}

// SetMaxConnectionRetry sets the connection retry budget. Negative values
// are treated as zero.
func (c *Client) SetMaxConnectionRetry(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxConnRetry = max(d, 0)
}

// ResponseHandler returns the registered response handler, or nil.
func (c *Client) ResponseHandler() ResponseHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// SetResponseHandler registers the callback invoked for every message.
func (c *Client) SetResponseHandler(h ResponseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state.Get()
}

// ErrorCode returns the session error code, 0 if none was recorded. See the
// Code constants for the ranges.
func (c *Client) ErrorCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// ServiceError returns the reason recorded with [Client.ErrorCode].
func (c *Client) ServiceError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// recordError keeps the first error of the session; later ones are the
// fallout of tearing it down.
func (c *Client) recordError(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code != CodeOK {
		return
	}
	c.code = code
	c.reason = reason
}

// Run streams producer's audio with the default media format and response
// types. See [Client.RunWith].
func (c *Client) Run(ctx context.Context, producer ChunkProducer) error {
	return c.RunWith(ctx, producer, DefaultMediaConfig(), DefaultResponseTypes)
}

// RunWith connects to the service, streams producer's audio until it is
// finished, performs the end-of-stream handshake and blocks until the
// connection has closed.
//
// Usage errors ([ErrSessionUsed], [ErrNoResponseTypes], an invalid media
// config) are returned immediately. Otherwise the result is nil when the
// session ended with [CodeOK], or a [*SessionError] carrying the same code
// and reason as [Client.ErrorCode] and [Client.ServiceError]. Cancelling ctx
// aborts the session.
func (c *Client) RunWith(ctx context.Context, producer ChunkProducer, media MediaConfig, types ResponseTypeSet) error {
	if producer == nil {
		return errors.New("streaming: chunk producer is nil")
	}
	if c.state.Get() != StateInitial {
		return ErrSessionUsed
	}
	if types.IsEmpty() {
		return ErrNoResponseTypes
	}
	mediaParams, err := media.QueryParams()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if err := c.state.ChangeIfStrict(StateOpening, StateInitial); err != nil {
		c.mu.Unlock()
		return ErrSessionUsed
	}
	c.cancel = cancel
	c.tracker = NewResponseTracker(types)
	c.runDone = make(chan struct{})
	target := buildURL(c.wsURL, mediaParams, types.QueryParams())
	handler := c.handler
	c.mu.Unlock()
	defer close(c.runDone)

	start := time.Now()
	runCtx, span := observe.StartSessionSpan(runCtx, media.String(), types.String())
	defer span.End()
	c.spanMu.Lock()
	c.span = span
	c.spanMu.Unlock()

	log := observe.WithTrace(runCtx, c.logger)
	log.Info("starting session", "media", media, "response_types", types)

	c.metrics.ActiveSessions.Add(runCtx, 1)
	defer c.metrics.ActiveSessions.Add(context.WithoutCancel(runCtx), -1)

	conn := c.connect(runCtx, target, log)
	if conn == nil {
		return c.finish(runCtx, span, start, log)
	}

	c.mu.Lock()
	c.conn = conn
	err = c.state.ChangeIfStrict(StateOpen, StateOpening)
	c.mu.Unlock()
	if err != nil {
		// Stop won the race against the handshake.
		_ = conn.CloseNow()
		c.recordError(CodeStoppedOpening, "stopped before the connection opened")
		c.state.Change(StateFailed)
		return c.finish(runCtx, span, start, log)
	}
	log.Info("session open")

	c.touch()
	conn.SetReadLimit(readLimit)

	var g errgroup.Group
	g.Go(func() error {
		c.pump(runCtx, conn, producer, log)
		return nil
	})
	g.Go(func() error {
		c.keepalive(runCtx, log)
		return nil
	})

	readErr := c.readLoop(runCtx, conn, handler, log)
	c.onClose(readErr, log)

	cancel()
	_ = g.Wait()
	_ = conn.CloseNow()

	return c.finish(runCtx, span, start, log)
}

func (c *Client) finish(ctx context.Context, span trace.Span, start time.Time, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	st := c.state.Get()
	code, reason := c.ErrorCode(), c.ServiceError()

	c.metrics.RecordSession(ctx, st.String(), code, time.Since(start).Seconds())
	observe.EndSession(span, st.String(), code, reason)

	if code == CodeOK {
		log.Info("session finished", "state", st, "duration", time.Since(start))
		return nil
	}
	log.Error("session failed", "state", st, "code", code, "reason", reason)
	return &SessionError{Code: code, Message: reason}
}

func (c *Client) stateChanged(from, to State) {
	c.logger.Debug("session state changed", "from", from, "to", to)
	c.spanMu.Lock()
	span := c.span
	c.spanMu.Unlock()
	observe.SessionStateEvent(span, from.String(), to.String())
}

// Stop ends the session. It is idempotent and safe to call from any
// goroutine at any time.
//
// While connecting, Stop abandons the connection attempt and the session
// fails with [CodeStoppedOpening]. While open, it gives the media pump a
// short grace period, closes the connection and waits up to a second for the
// session to finish. Stop before Run leaves the Client unusable.
//
// Stop reports whether the session reached [StateDone]. Called from a
// [ResponseHandler] it cannot observe the close it initiates and returns
// false after the wait.
func (c *Client) Stop() bool {
	c.mu.Lock()
	prev, _ := c.state.changeUnlessFinal(StateClosing)
	c.closing = true
	cancel := c.cancel
	c.mu.Unlock()

	switch {
	case prev == StateInitial:
		c.logger.Info("stopped before the session started")
		return false
	case prev.IsTerminal():
		return prev == StateDone
	case prev == StateOpening:
		if cancel != nil {
			cancel()
		}
	case prev == StateOpen:
		time.Sleep(c.stopGrace)
		c.forceClose()
	default:
		c.forceClose()
	}

	st, ok := c.state.waitUntil(context.Background(), c.stopTimeout, State.IsTerminal)
	if !ok && cancel != nil {
		cancel()
	}
	return st == StateDone
}

// Close stops the session, if any, and waits for Run to return. It must not
// be called from a [ResponseHandler].
func (c *Client) Close() error {
	c.Stop()
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}
