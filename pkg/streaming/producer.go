package streaming

// ChunkProducer supplies the audio for one session. It is consumed by a
// single goroutine and is never restarted.
//
// Chunk is called in a tight loop while the session is open. When no audio
// is ready it must either block until some is, or wait briefly (around
// 100ms) and return an empty, nil-error chunk; an empty chunk means "try
// again", not end of input. A non-nil error means the source has failed and
// tears the session down.
//
// Finished reports that all audio has been delivered. Once it returns true
// the client sends the end-of-stream event, after which no more audio may
// be sent for the session.
type ChunkProducer interface {
	Chunk() ([]byte, error)
	Finished() bool
}

// ResponseHandler receives every message from the service. It runs on the
// goroutine that reads the connection, so it must return promptly; a slow
// handler delays keepalive processing and end-of-stream detection.
type ResponseHandler func(c *Client, msg *Message)
