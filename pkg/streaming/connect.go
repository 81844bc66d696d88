package streaming

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	retryMultiplier = 1.5
	dialTimeout     = 30 * time.Second
)

// Response texts that turn a failed upgrade into an authentication error.
var authFailurePrefixes = []string{"Unauthorized", "Authentication rejected"}

// buildURL appends the media and response-type parameters to base, which may
// already carry a query string.
func buildURL(base, mediaParams, typeParams string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + mediaParams + "&" + typeParams
}

// dialOptions returns the handshake options for one session.
func (c *Client) dialOptions() *websocket.DialOptions {
	c.mu.Lock()
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !c.verifySSLCert, //nolint:gosec // opt-in for test servers
		RootCAs:            c.rootCAs,
	}
	c.mu.Unlock()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: dialTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	return &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: transport},
		HTTPHeader: header,
		OnPingReceived: func(ctx context.Context, _ []byte) bool {
			c.touch()
			c.metrics.KeepalivePings.Add(ctx, 1)
			return true
		},
	}
}

// connect opens the WebSocket connection, retrying failed attempts with
// exponential backoff until the accumulated delay would exceed the retry
// budget. On failure it records the error, moves the session to
// [StateFailed] and returns nil.
func (c *Client) connect(ctx context.Context, target string, log *slog.Logger) *websocket.Conn {
	opts := c.dialOptions()

	c.mu.Lock()
	delay := c.initialRetryDelay
	budget := c.maxConnRetry
	c.mu.Unlock()

	var waited time.Duration
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil || c.state.Get() != StateOpening {
			c.stoppedOpening(log)
			return nil
		}

		conn, resp, err := websocket.Dial(ctx, target, opts)
		if err == nil {
			c.metrics.RecordConnectAttempt(ctx, "ok")
			log.Info("connected", "attempt", attempt)
			return conn
		}
		c.metrics.RecordConnectAttempt(ctx, "error")
		if ctx.Err() != nil {
			c.stoppedOpening(log)
			return nil
		}

		code, reason := dialFailure(resp, err)
		if waited+delay > budget {
			log.Error("giving up connecting",
				"attempts", attempt,
				"waited", waited,
				"code", code,
				"reason", reason,
			)
			c.recordError(code, reason)
			if err := c.state.ChangeIfStrict(StateFailed, StateOpening); err != nil {
				log.Warn("connection failed outside of opening", "err", err)
				c.state.Change(StateFailed)
			}
			return nil
		}

		log.Warn("connection attempt failed, retrying",
			"attempt", attempt,
			"code", code,
			"reason", reason,
			"backoff", delay,
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.stoppedOpening(log)
			return nil
		case <-t.C:
		}
		waited += delay
		delay = time.Duration(float64(delay) * retryMultiplier)
	}
}

func (c *Client) stoppedOpening(log *slog.Logger) {
	log.Info("stopped while connecting")
	c.recordError(CodeStoppedOpening, "stopped before the connection opened")
	c.state.Change(StateFailed)
}

// dialFailure maps a failed handshake to an error code and reason. Every
// failure is an abnormal close unless the service's response text says the
// token was rejected.
func dialFailure(resp *http.Response, err error) (int, string) {
	if resp != nil {
		var texts []string
		if resp.Body != nil {
			// On a failed handshake the body holds at most the first 1KiB.
			if b, rerr := io.ReadAll(resp.Body); rerr == nil {
				texts = append(texts, strings.TrimSpace(string(b)))
			}
		}
		if _, phrase, ok := strings.Cut(resp.Status, " "); ok {
			texts = append(texts, phrase)
		}
		for _, text := range texts {
			for _, prefix := range authFailurePrefixes {
				if strings.HasPrefix(text, prefix) {
					return CodeUnauthorized, text
				}
			}
		}
	}
	return CodeAbnormalClose, err.Error()
}
