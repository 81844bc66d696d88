// Package streamingtest provides an in-process fake of the streaming
// transcription service for tests.
//
// The fake listens on a TLS [httptest.Server] and speaks the same wire
// protocol as the real service: it authenticates the bearer token, counts
// the binary audio it receives, answers with a captions response for every
// second of 16 kHz S16LE audio and, when the client sends its end-of-stream
// event, replies with an end-of-stream response for each requested type.
package streamingtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ValidToken is long enough to pass the fake's token check.
const ValidToken = "a-token-longer-than-40-chars-a-token-longer-than-40-chars"

// DefaultResponseEvery is one second of 16 kHz, 16-bit mono audio.
const DefaultResponseEvery = 32000

const (
	speaker1 = "c6eb6f2b-f85b-478f-af8a-a21b00000001"
	speaker2 = "c6eb6f2b-f85b-478f-af8a-a21b00000002"
	speaker3 = "c6eb6f2b-f85b-478f-af8a-a21b00000003"
)

// Option configures a [Server].
type Option func(*Server)

// WithMinAuthLength rejects upgrades whose Authorization header is shorter
// than n with HTTP 401. Default: 40.
func WithMinAuthLength(n int) Option {
	return func(s *Server) { s.minAuthLen = n }
}

// WithFailedUpgrades answers the first n upgrade attempts with HTTP 408.
func WithFailedUpgrades(n int) Option {
	return func(s *Server) { s.failUpgrades = n }
}

// WithPingInterval makes the server ping the client every d.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithResponseEvery sets how many audio bytes trigger one interim captions
// response. Zero disables interim responses.
func WithResponseEvery(n int) Option {
	return func(s *Server) { s.responseEvery = n }
}

// WithEOSTypes overrides the response types acknowledged after the client's
// end-of-stream event. By default every type requested in the query string
// is acknowledged.
func WithEOSTypes(types ...string) Option {
	return func(s *Server) { s.eosTypes = types }
}

// WithoutEOSReply makes the server ignore the end-of-stream event.
func WithoutEOSReply() Option {
	return func(s *Server) { s.noEOSReply = true }
}

// WithCloseOnEOS makes the server close the connection with code and reason
// instead of answering the end-of-stream event.
func WithCloseOnEOS(code websocket.StatusCode, reason string) Option {
	return func(s *Server) {
		s.closeCode = code
		s.closeReason = reason
	}
}

// WithDropAfter makes the server drop the TCP connection, without a close
// frame, once it has received at least n bytes of audio.
func WithDropAfter(n int) Option {
	return func(s *Server) { s.dropAfter = n }
}

// WithGreeting sends payload as a text message right after the upgrade.
func WithGreeting(payload string) Option {
	return func(s *Server) { s.greeting = payload }
}

// WithIntSpeakerIDs labels the third speaker with the integer id 0, as some
// service deployments do.
func WithIntSpeakerIDs() Option {
	return func(s *Server) { s.intSpeakerIDs = true }
}

// Server is a fake streaming service. Create one with [New]; it is closed
// automatically when the test ends.
type Server struct {
	srv *httptest.Server

	minAuthLen    int
	failUpgrades  int
	pingInterval  time.Duration
	responseEvery int
	eosTypes      []string
	noEOSReply    bool
	closeCode     websocket.StatusCode
	closeReason   string
	dropAfter     int
	greeting      string
	intSpeakerIDs bool

	mu       sync.Mutex
	attempts int
	auth     []string
	queries  []string
	received bytes.Buffer
	events   []string
	sent     int
}

// TB is the subset of testing.TB used by [New].
type TB interface {
	Helper()
	Cleanup(func())
}

// New starts a fake service.
func New(t TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		minAuthLen:    40,
		responseEvery: DefaultResponseEvery,
	}
	for _, o := range opts {
		o(s)
	}
	s.srv = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the wss:// URL of the service.
func (s *Server) URL() string {
	return "wss" + strings.TrimPrefix(s.srv.URL, "https")
}

// CertPool returns a pool trusting the server's self-signed certificate.
func (s *Server) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.srv.Certificate())
	return pool
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Attempts returns the number of upgrade requests received.
func (s *Server) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Authorization returns the Authorization header of every upgrade request.
func (s *Server) Authorization() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

// Query returns the raw query string of the last accepted connection.
func (s *Server) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

// Received returns a copy of all binary audio received.
func (s *Server) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.received.Bytes())
}

// Events returns every text message received from clients.
func (s *Server) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// ResponsesSent returns the number of responses written to clients.
func (s *Server) ResponsesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.auth = append(s.auth, auth)
	s.mu.Unlock()

	if attempt <= s.failUpgrades {
		http.Error(w, "Request Timeout", http.StatusRequestTimeout)
		return
	}
	if len(auth) < s.minAuthLen {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if s.pingInterval > 0 {
		go s.ping(ctx, conn)
	}
	if s.greeting != "" {
		s.write(ctx, conn, []byte(s.greeting))
	}

	eosTypes := s.eosTypes
	if eosTypes == nil {
		eosTypes = requestedTypes(r.URL.Query())
	}

	var seen, answered int
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			seen += len(data)
			s.mu.Lock()
			s.received.Write(data)
			s.mu.Unlock()
			if s.dropAfter > 0 && seen >= s.dropAfter {
				return
			}
			if s.responseEvery > 0 && seen-answered >= s.responseEvery {
				answered = seen
				s.write(ctx, conn, s.response("captions", false, seen))
			}
		case websocket.MessageText:
			s.mu.Lock()
			s.events = append(s.events, string(data))
			s.mu.Unlock()
			switch {
			case s.closeCode != 0:
				_ = conn.Close(s.closeCode, s.closeReason)
				return
			case s.noEOSReply:
			default:
				for _, t := range eosTypes {
					s.write(ctx, conn, s.response(t, true, seen))
				}
			}
		}
	}
}

func (s *Server) ping(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := conn.Ping(pctx)
		cancel()
		if err != nil {
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, payload []byte) {
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// requestedTypes returns the lower-case wire names of the response types
// requested in q.
func requestedTypes(q url.Values) []string {
	var types []string
	if q.Get("get_transcript") == "True" {
		types = append(types, "transcript")
	}
	if q.Get("get_captions") == "True" {
		types = append(types, "captions")
	}
	return types
}

type response struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	ServiceType   string        `json:"service_type"`
	LanguageCode  string        `json:"language_code"`
	IsFinal       bool          `json:"is_final"`
	IsEndOfStream bool          `json:"is_end_of_stream"`
	Speakers      []speaker     `json:"speakers"`
	Alternatives  []alternative `json:"alternatives"`
}

type speaker struct {
	ID    any    `json:"id"`
	Label string `json:"label"`
}

type alternative struct {
	Transcript string `json:"transcript"`
	Items      []item `json:"items"`
}

type item struct {
	Kind      string  `json:"kind"`
	Value     string  `json:"value"`
	SpeakerID any     `json:"speaker_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// response builds a response envelope describing the seen audio bytes.
func (s *Server) response(typ string, eos bool, seen int) []byte {
	transcript := fmt.Sprintf("I've seen %d bytes . ", seen)
	if eos {
		transcript = fmt.Sprintf("I saw %d bytes . ", seen)
	}

	var third any = speaker3
	if s.intSpeakerIDs {
		third = 0
	}
	var current any
	switch {
	case seen%288000 < 96000:
		current = speaker1
	case seen%288000 < 198000:
		current = speaker2
	default:
		current = third
	}

	var items []item
	tick := float64(seen) / DefaultResponseEvery
	for _, word := range strings.Fields(transcript) {
		kind := "text"
		if strings.ContainsAny(word, ".,?!") && len(word) == 1 {
			kind = "punct"
		}
		items = append(items, item{
			Kind:      kind,
			Value:     word,
			SpeakerID: current,
			Start:     tick,
			End:       tick + 0.007,
		})
		tick += 0.02
	}

	b, _ := json.Marshal(map[string]response{"response": {
		ID:            newID(),
		Type:          typ,
		ServiceType:   "transcription",
		LanguageCode:  "en-US",
		IsFinal:       true,
		IsEndOfStream: eos,
		Speakers: []speaker{
			{ID: speaker1, Label: "First Host"},
			{ID: speaker2, Label: "Second Host"},
			{ID: third, Label: "Speaker 3"},
		},
		Alternatives: []alternative{{Transcript: transcript, Items: items}},
	}})
	return b
}

func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
