package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/streamscribe/internal/resilience"
)

// maxSendErrors is the number of consecutive failed writes the pump
// tolerates; one more tears the session down.
const maxSendErrors = 10

// eosEvent tells the service that no more audio follows.
var eosEvent = []byte(`{"event":"EOS","payload":{}}`)

// pump forwards audio from producer while the session is open, then performs
// the end-of-stream handshake once the producer is finished.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, producer ChunkProducer, log *slog.Logger) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:                   "media-send",
		MaxConsecutiveFailures: maxSendErrors,
		OnTrip: func(err error, failures int) {
			code := int(websocket.CloseStatus(err))
			if code < 0 {
				code = CodeAbnormalClose
			}
			log.Error("too many failed sends, stopping",
				"failures", failures,
				"code", code,
				"err", err,
			)
			c.metrics.SendTrips.Add(ctx, 1)
			c.recordError(code, err.Error())
		},
	})

	for !producer.Finished() && c.state.Get() == StateOpen {
		chunk, err := producer.Chunk()
		if err != nil {
			log.Error("audio source failed", "err", err)
			c.recordError(CodeAudioSource, err.Error())
			c.Stop()
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if c.state.Get() != StateOpen {
			break
		}

		err = breaker.Execute(func() error {
			return conn.Write(ctx, websocket.MessageBinary, chunk)
		})
		if err == nil {
			c.metrics.RecordChunk(ctx, len(chunk))
			log.Debug("sent chunk", "bytes", len(chunk))
			continue
		}

		c.metrics.SendErrors.Add(ctx, 1)
		if breaker.State() == resilience.StateOpen {
			c.Stop()
			return
		}
		log.Warn("sending chunk failed", "err", err, "failures", breaker.ConsecutiveFailures())
	}

	if !producer.Finished() {
		log.Debug("media pump exiting", "state", c.state.Get())
		return
	}
	c.sendEOS(ctx, conn, log)
}

// sendEOS sends the end-of-stream event and waits for the session to be
// completed by the receive path. When the service does not complete every
// requested response type in time, the connection is closed from here.
func (c *Client) sendEOS(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	if !c.state.ChangeIf(StateClosing, StateOpen) {
		log.Info("media finished after the session stopped", "state", c.state.Get())
		return
	}

	log.Info("media finished, sending end-of-stream")
	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageText, eosEvent); err != nil {
		log.Error("sending end-of-stream failed", "err", err)
	}

	st, ok := c.state.waitUntil(ctx, c.eosTimeout, func(s State) bool {
		return s != StateClosing
	})
	switch {
	case ok && st == StateDone:
		c.metrics.EOSDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
		log.Info("session completed", "eos_wait", time.Since(start))
	case ok:
		log.Warn("session left closing unexpectedly", "state", st)
	case ctx.Err() != nil:
		log.Info("stopped while waiting for end-of-stream")
	default:
		log.Error("timed out waiting for end-of-stream responses",
			"timeout", c.eosTimeout,
			"acknowledged", c.tracker.Acknowledged(),
			"requested", c.tracker.Requested(),
		)
		c.recordError(CodeEOSTimeout, "timed out waiting for end-of-stream responses")
		c.forceClose()
	}
}
