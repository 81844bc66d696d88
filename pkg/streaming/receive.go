package streaming

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// readLoop delivers inbound messages until the connection closes and returns
// the error that ended it.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler ResponseHandler, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			log.Debug("ignoring binary message", "bytes", len(data))
			continue
		}
		c.onMessage(ctx, conn, data, handler, log)
	}
}

func (c *Client) onMessage(ctx context.Context, conn *websocket.Conn, data []byte, handler ResponseHandler, log *slog.Logger) {
	msg, err := ParseMessage(data)
	if err != nil {
		log.Warn("discarding undecodable message", "err", err, "bytes", len(data))
		return
	}
	if handler != nil {
		handler(c, msg)
	}

	r := msg.Response
	if r == nil {
		log.Warn("message has no response", "payload", string(data))
		return
	}
	c.metrics.RecordResponse(ctx, r.Type, r.IsEndOfStream)

	if err := c.tracker.RecordEOS(r); err != nil {
		log.Warn("end-of-stream for unknown response type", "type", r.Type, "err", err)
	}
	if r.IsEndOfStream {
		log.Info("end-of-stream received", "type", r.Type, "acknowledged", c.tracker.Acknowledged())
	}
	if !c.tracker.IsComplete() {
		return
	}

	c.mu.Lock()
	already := c.closing
	c.closing = true
	c.mu.Unlock()
	if !already {
		log.Info("all response types complete, closing")
		c.closeConn(conn)
	}
}

// onClose settles the session once the read loop has ended with err.
func (c *Client) onClose(err error, log *slog.Logger) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway,
		status == websocket.StatusNoStatusRcvd:
		log.Info("connection closed", "status", status)
	case status == -1 && closing:
		log.Debug("connection closed locally", "err", err)
	case status == -1:
		log.Warn("connection lost", "err", err)
		c.recordError(CodeAbnormalClose, err.Error())
	default:
		var ce websocket.CloseError
		reason := err.Error()
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		log.Warn("connection closed by service", "status", status, "reason", reason)
		c.recordError(int(status), reason)
	}

	c.state.ChangeUnless(StateDone, StateFailed)
}

// forceClose initiates a local close of the current connection, if any.
func (c *Client) forceClose() {
	c.mu.Lock()
	conn := c.conn
	c.closing = true
	c.mu.Unlock()
	if conn != nil {
		c.closeConn(conn)
	}
}

// closeConn starts the close handshake without blocking the caller and
// drops the connection if the handshake takes longer than the stop timeout.
func (c *Client) closeConn(conn *websocket.Conn) {
	go func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = conn.Close(websocket.StatusGoingAway, "")
		}()
		t := time.NewTimer(c.stopTimeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			_ = conn.CloseNow()
		}
	}()
}
