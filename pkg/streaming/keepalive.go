package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// touch records a liveness signal from the service.
func (c *Client) touch() {
	c.liveMu.Lock()
	c.lastPing = time.Now()
	c.liveMu.Unlock()
}

func (c *Client) sinceLive() time.Duration {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	return time.Since(c.lastPing)
}

// keepalive stops the session when the service has not pinged for longer
// than the keepalive timeout. It exits once the session is final.
func (c *Client) keepalive(ctx context.Context, log *slog.Logger) {
	t := time.NewTicker(c.keepaliveInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if c.state.IsFinal() {
			return
		}
		idle := c.sinceLive()
		if idle <= c.keepaliveTimeout {
			continue
		}
		log.Error("keepalive timeout", "idle", idle, "timeout", c.keepaliveTimeout)
		c.recordError(CodeKeepalive, fmt.Sprintf("no ping from the service for %s", idle.Round(time.Millisecond)))
		c.Stop()
		return
	}
}
