// Package streaming is a client for a real-time speech transcription service
// reached over a secure WebSocket.
//
// A [Client] runs exactly one session. [Client.Run] connects (retrying with
// exponential backoff until the connection-retry budget is spent), then
// forwards binary audio chunks from a [ChunkProducer] while inbound JSON
// responses are delivered to the configured [ResponseHandler]. When the
// producer reports that it is finished, the client sends an end-of-stream
// event and keeps the connection open until the service has sent an
// end-of-stream response for every requested [ResponseType].
//
// The session moves through the states of [State]:
//
//	initial -> opening -> open -> closing -> done
//	                 \        \         \
//	                  `--------`---------`--> fail
//
// Done and fail are terminal. Run returns nil when the session completed
// with error code 0 and a [*SessionError] otherwise; the code and reason are
// also available from [Client.ErrorCode] and [Client.ServiceError].
//
// Basic usage:
//
//	c, err := streaming.New(token, streaming.WithResponseHandler(func(_ *streaming.Client, msg *streaming.Message) {
//		if msg.Response != nil {
//			fmt.Println(msg.Response.Transcript())
//		}
//	}))
//	if err != nil {
//		return err
//	}
//	err = c.Run(ctx, producer)
//
// [Client.Stop] may be called from any goroutine to end a session early.
package streaming
