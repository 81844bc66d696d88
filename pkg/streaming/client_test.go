package streaming_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/streamscribe/pkg/streaming"
	"github.com/MrWong99/streamscribe/pkg/streaming/streamingtest"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// sliceProducer hands out data in fixed-size chunks. When failAt is positive
// the failAt-th call to Chunk returns errSource.
type sliceProducer struct {
	data   []byte
	size   int
	pos    int
	calls  int
	failAt int
	pause  time.Duration
}

var errSource = errors.New("audio device unplugged")

func (p *sliceProducer) Chunk() ([]byte, error) {
	p.calls++
	if p.failAt > 0 && p.calls >= p.failAt {
		return nil, errSource
	}
	if p.pause > 0 {
		time.Sleep(p.pause)
	}
	end := min(p.pos+p.size, len(p.data))
	chunk := p.data[p.pos:end]
	p.pos = end
	return chunk, nil
}

func (p *sliceProducer) Finished() bool { return p.pos >= len(p.data) }

// endlessProducer never finishes. With a nil chunk it only reports "not
// ready yet".
type endlessProducer struct {
	chunk []byte
	pause time.Duration
}

func (p *endlessProducer) Chunk() ([]byte, error) {
	time.Sleep(p.pause)
	return p.chunk, nil
}

func (p *endlessProducer) Finished() bool { return false }

// audio returns n bytes of a repeating pattern.
func audio(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// newClient returns a client pointed at srv that gives up connecting after
// the first failure.
func newClient(t *testing.T, srv *streamingtest.Server, opts ...streaming.Option) *streaming.Client {
	t.Helper()
	base := []streaming.Option{
		streaming.WithURL(srv.URL()),
		streaming.WithRootCAs(srv.CertPool()),
		streaming.WithInitialRetryDelay(10 * time.Millisecond),
		streaming.WithMaxConnectionRetry(0),
		streaming.WithLogger(slog.New(slog.DiscardHandler)),
	}
	c, err := streaming.New(streamingtest.ValidToken, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// run calls RunWith and fails the test if it does not return in time.
func run(t *testing.T, c *streaming.Client, p streaming.ChunkProducer, types streaming.ResponseTypeSet) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- c.RunWith(context.Background(), p, streaming.DefaultMediaConfig(), types)
	}()
	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// recorder collects the messages delivered to a response handler.
type recorder struct {
	mu   sync.Mutex
	msgs []*streaming.Message
}

func (r *recorder) handle(_ *streaming.Client, msg *streaming.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) messages() []*streaming.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*streaming.Message(nil), r.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Happy paths ───────────────────────────────────────────────────────────────

func TestRun_StreamsAudioAndCompletes(t *testing.T) {
	srv := streamingtest.New(t)
	rec := &recorder{}
	c := newClient(t, srv, streaming.WithResponseHandler(rec.handle))

	data := audio(70400)
	err := run(t, c, &sliceProducer{data: data, size: 3200}, streaming.DefaultResponseTypes)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if c.State() != streaming.StateDone {
		t.Errorf("state = %s, want done", c.State())
	}
	if c.ErrorCode() != streaming.CodeOK {
		t.Errorf("ErrorCode = %d (%s)", c.ErrorCode(), c.ServiceError())
	}
	if got := srv.Received(); string(got) != string(data) {
		t.Errorf("server received %d bytes, want the %d bytes sent", len(got), len(data))
	}
	if got := srv.Events(); len(got) != 1 || got[0] != `{"event":"EOS","payload":{}}` {
		t.Errorf("events = %q", got)
	}
	wantQuery := "format=S16LE&sample_rate=16000&sample_width=2&num_channels=1&get_transcript=False&get_captions=True"
	if got := srv.Query(); got != wantQuery {
		t.Errorf("query = %q, want %q", got, wantQuery)
	}
	if got := srv.Authorization(); len(got) != 1 || got[0] != "Bearer "+streamingtest.ValidToken {
		t.Errorf("Authorization = %q", got)
	}

	msgs := rec.messages()
	if len(msgs) != 3 {
		t.Fatalf("handler got %d messages, want 3", len(msgs))
	}
	for _, m := range msgs[:2] {
		if m.Response == nil || m.Response.IsEndOfStream {
			t.Errorf("interim message = %s", m.Raw)
		}
	}
	last := msgs[2].Response
	if last == nil || !last.IsEndOfStream || last.Type != "captions" {
		t.Fatalf("final message = %s", msgs[2].Raw)
	}
	if got := last.Transcript(); got != "I saw 70400 bytes . " {
		t.Errorf("final transcript = %q", got)
	}
}

func TestRun_WaitsForEveryRequestedType(t *testing.T) {
	srv := streamingtest.New(t)
	rec := &recorder{}
	c := newClient(t, srv, streaming.WithResponseHandler(rec.handle))

	both := streaming.NewResponseTypeSet(streaming.Transcript, streaming.Captions)
	if err := run(t, c, &sliceProducer{data: audio(6400), size: 640}, both); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(srv.Query(), "get_transcript=True&get_captions=True") {
		t.Errorf("query = %q", srv.Query())
	}

	types := map[string]bool{}
	for _, m := range rec.messages() {
		if m.Response != nil && m.Response.IsEndOfStream {
			types[m.Response.Type] = true
		}
	}
	if !types["transcript"] || !types["captions"] {
		t.Errorf("end-of-stream types seen = %v", types)
	}
}

func TestRun_EmptyAudio(t *testing.T) {
	srv := streamingtest.New(t)
	rec := &recorder{}
	c := newClient(t, srv, streaming.WithResponseHandler(rec.handle))

	if err := run(t, c, &sliceProducer{size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(srv.Received()) != 0 {
		t.Errorf("server received %d bytes", len(srv.Received()))
	}
	if len(srv.Events()) != 1 {
		t.Errorf("events = %q, want one end-of-stream", srv.Events())
	}

	var eos []*streaming.Response
	for _, m := range rec.messages() {
		if m.Response != nil && m.Response.IsEndOfStream {
			eos = append(eos, m.Response)
		}
	}
	if len(eos) != 1 {
		t.Fatalf("handler got %d end-of-stream responses, want 1", len(eos))
	}
	if eos[0].Type != "captions" || eos[0].Transcript() != "I saw 0 bytes . " {
		t.Errorf("end-of-stream response = %+v", eos[0])
	}
	if c.State() != streaming.StateDone {
		t.Errorf("state = %s, want done", c.State())
	}
}

func TestRun_ToleratesMessageWithoutResponse(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithGreeting(`{"event":"welcome"}`))
	rec := &recorder{}
	c := newClient(t, srv, streaming.WithResponseHandler(rec.handle))

	if err := run(t, c, &sliceProducer{data: audio(3200), size: 3200, pause: 50 * time.Millisecond}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := rec.messages()
	if len(msgs) == 0 || msgs[0].Response != nil {
		t.Fatalf("first message should be the greeting, got %d messages", len(msgs))
	}
}

func TestRun_IntegerSpeakerIDs(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithIntSpeakerIDs())
	rec := &recorder{}
	c := newClient(t, srv, streaming.WithResponseHandler(rec.handle))

	if err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := rec.messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].Response == nil {
		t.Fatal("no final response")
	}
	speakers := msgs[len(msgs)-1].Response.Speakers
	if len(speakers) != 3 || speakers[2].ID != "0" {
		t.Errorf("speakers = %+v", speakers)
	}
}

func TestRun_BaseURLWithQuery(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv, streaming.WithURL(srv.URL()+"?lang=en"))

	if err := run(t, c, &sliceProducer{size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(srv.Query(), "lang=en&format=S16LE&") {
		t.Errorf("query = %q", srv.Query())
	}
}

func TestRun_InsecureSkipsVerification(t *testing.T) {
	srv := streamingtest.New(t)
	c, err := streaming.New(streamingtest.ValidToken,
		streaming.WithURL(srv.URL()),
		streaming.WithVerifySSLCert(false),
		streaming.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := run(t, c, &sliceProducer{size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// ── Connection failures ───────────────────────────────────────────────────────

func TestRun_Unauthorized(t *testing.T) {
	srv := streamingtest.New(t)
	c, err := streaming.New("short-token",
		streaming.WithURL(srv.URL()),
		streaming.WithRootCAs(srv.CertPool()),
		streaming.WithMaxConnectionRetry(0),
		streaming.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes)
	var se *streaming.SessionError
	if !errors.As(err, &se) || se.Code != streaming.CodeUnauthorized {
		t.Fatalf("Run err = %v, want code 401", err)
	}
	if c.ErrorCode() != 401 || c.ServiceError() != "Unauthorized" {
		t.Errorf("diagnostics = (%d, %q)", c.ErrorCode(), c.ServiceError())
	}
	if c.State() != streaming.StateFailed {
		t.Errorf("state = %s, want fail", c.State())
	}
	if srv.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", srv.Attempts())
	}
}

func TestRun_RetriesUntilConnected(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithFailedUpgrades(2))
	c := newClient(t, srv, streaming.WithMaxConnectionRetry(time.Second))

	if err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Attempts() != 3 {
		t.Errorf("attempts = %d, want 3", srv.Attempts())
	}
}

func TestRun_GivesUpAfterRetryBudget(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithFailedUpgrades(100))
	// Delays 10ms, 15ms, 22.5ms fit in 50ms; the next one does not.
	c := newClient(t, srv, streaming.WithMaxConnectionRetry(50*time.Millisecond))

	err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes)
	if got := streaming.CodeOf(err); got != streaming.CodeAbnormalClose {
		t.Fatalf("code = %d (%v), want 1006", got, err)
	}
	if srv.Attempts() != 4 {
		t.Errorf("attempts = %d, want 4", srv.Attempts())
	}
	if c.State() != streaming.StateFailed {
		t.Errorf("state = %s, want fail", c.State())
	}
}

func TestRun_ZeroRetryDelayStillGivesUp(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithFailedUpgrades(100))
	// The zero delay falls back to 1s: one retry fits in the 1s budget.
	c := newClient(t, srv,
		streaming.WithInitialRetryDelay(0),
		streaming.WithMaxConnectionRetry(time.Second),
	)

	err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes)
	if got := streaming.CodeOf(err); got != streaming.CodeAbnormalClose {
		t.Fatalf("code = %d (%v), want 1006", got, err)
	}
	if srv.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", srv.Attempts())
	}
}

func TestRun_UntrustedCertificate(t *testing.T) {
	srv := streamingtest.New(t)
	c, err := streaming.New(streamingtest.ValidToken,
		streaming.WithURL(srv.URL()),
		streaming.WithMaxConnectionRetry(0),
		streaming.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = run(t, c, &sliceProducer{size: 3200}, streaming.DefaultResponseTypes)
	if streaming.CodeOf(err) != streaming.CodeAbnormalClose {
		t.Fatalf("Run err = %v, want code 1006", err)
	}
	if !strings.Contains(c.ServiceError(), "certificate") {
		t.Errorf("ServiceError = %q", c.ServiceError())
	}
}

// ── Session failures ──────────────────────────────────────────────────────────

func TestRun_EOSTimeout(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithoutEOSReply())
	c := newClient(t, srv, streaming.WithEOSTimeout(200*time.Millisecond))

	start := time.Now()
	err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes)
	if got := streaming.CodeOf(err); got != streaming.CodeEOSTimeout {
		t.Fatalf("code = %d (%v), want 9003", got, err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("returned after %s, before the EOS timeout", elapsed)
	}
	if c.State() != streaming.StateDone {
		t.Errorf("state = %s, want done", c.State())
	}
}

func TestRun_PartialAcknowledgementTimesOut(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithEOSTypes("captions"))
	c := newClient(t, srv, streaming.WithEOSTimeout(200*time.Millisecond))

	both := streaming.NewResponseTypeSet(streaming.Transcript, streaming.Captions)
	err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, both)
	if got := streaming.CodeOf(err); got != streaming.CodeEOSTimeout {
		t.Fatalf("code = %d (%v), want 9003", got, err)
	}
}

func TestRun_AudioSourceFailure(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv)

	err := run(t, c, &sliceProducer{data: audio(64000), size: 3200, failAt: 3}, streaming.DefaultResponseTypes)
	var se *streaming.SessionError
	if !errors.As(err, &se) || se.Code != streaming.CodeAudioSource {
		t.Fatalf("Run err = %v, want code 9001", err)
	}
	if se.Message != errSource.Error() {
		t.Errorf("message = %q", se.Message)
	}
	if len(srv.Events()) != 0 {
		t.Errorf("end-of-stream sent after a source failure: %q", srv.Events())
	}
}

func TestRun_KeepaliveTimeout(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv,
		streaming.WithKeepaliveTimeout(100*time.Millisecond),
		streaming.WithKeepaliveInterval(20*time.Millisecond),
	)

	err := run(t, c, &endlessProducer{pause: 10 * time.Millisecond}, streaming.DefaultResponseTypes)
	if got := streaming.CodeOf(err); got != streaming.CodeKeepalive {
		t.Fatalf("code = %d (%v), want 9002", got, err)
	}
}

func TestRun_PingsKeepSessionAlive(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithPingInterval(20*time.Millisecond))
	c := newClient(t, srv,
		streaming.WithKeepaliveTimeout(150*time.Millisecond),
		streaming.WithKeepaliveInterval(20*time.Millisecond),
	)

	p := &sliceProducer{data: audio(6400), size: 640, pause: 50 * time.Millisecond}
	if err := run(t, c, p, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_ServiceCloseCodeIsRecorded(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithCloseOnEOS(websocket.StatusCode(4000), "order rejected"))
	c := newClient(t, srv)

	err := run(t, c, &sliceProducer{data: audio(3200), size: 3200}, streaming.DefaultResponseTypes)
	var se *streaming.SessionError
	if !errors.As(err, &se) || se.Code != 4000 || se.Message != "order rejected" {
		t.Fatalf("Run err = %v, want code 4000 with reason", err)
	}
}

func TestRun_ConnectionDroppedMidStream(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithDropAfter(6400))
	c := newClient(t, srv)

	p := &endlessProducer{chunk: audio(640), pause: 5 * time.Millisecond}
	start := time.Now()
	err := run(t, c, p, streaming.DefaultResponseTypes)
	if got := streaming.CodeOf(err); got != streaming.CodeAbnormalClose {
		t.Fatalf("code = %d (%v), want 1006", got, err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %s after the connection dropped", elapsed)
	}
	if len(srv.Events()) != 0 {
		t.Errorf("end-of-stream sent on a dropped connection: %q", srv.Events())
	}
	if !c.State().IsTerminal() {
		t.Errorf("state = %s, want a terminal state", c.State())
	}
}

// ── Stop and usage ────────────────────────────────────────────────────────────

func TestStop_WhileOpen(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Run(context.Background(), &endlessProducer{chunk: audio(640), pause: 10 * time.Millisecond})
	}()
	waitFor(t, "audio at the server", func() bool { return len(srv.Received()) > 0 })

	if !c.Stop() {
		t.Errorf("Stop = false, state %s", c.State())
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if !c.Stop() {
		t.Error("second Stop = false")
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	srv := streamingtest.New(t, streamingtest.WithFailedUpgrades(100))
	c := newClient(t, srv,
		streaming.WithInitialRetryDelay(10*time.Second),
		streaming.WithMaxConnectionRetry(time.Minute),
	)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Run(context.Background(), &sliceProducer{data: audio(3200), size: 3200})
	}()
	waitFor(t, "a connection attempt", func() bool { return srv.Attempts() > 0 })

	start := time.Now()
	if c.Stop() {
		t.Error("Stop while connecting reported done")
	}
	select {
	case err := <-errc:
		if got := streaming.CodeOf(err); got != streaming.CodeStoppedOpening {
			t.Errorf("code = %d (%v), want 9004", got, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stopping took %s", elapsed)
	}
	if c.State() != streaming.StateFailed {
		t.Errorf("state = %s, want fail", c.State())
	}
}

func TestStop_BeforeRun(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv)

	if c.Stop() {
		t.Error("Stop before Run reported done")
	}
	err := c.Run(context.Background(), &sliceProducer{size: 3200})
	if !errors.Is(err, streaming.ErrSessionUsed) {
		t.Errorf("Run after Stop err = %v, want ErrSessionUsed", err)
	}
	if srv.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0", srv.Attempts())
	}
}

func TestRun_SingleUse(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv)

	if err := run(t, c, &sliceProducer{size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	err := c.Run(context.Background(), &sliceProducer{size: 3200})
	if !errors.Is(err, streaming.ErrSessionUsed) {
		t.Fatalf("second Run err = %v, want ErrSessionUsed", err)
	}
	if c.ErrorCode() != streaming.CodeOK || c.State() != streaming.StateDone {
		t.Errorf("second Run disturbed the finished session: code=%d state=%s", c.ErrorCode(), c.State())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	srv := streamingtest.New(t)
	c := newClient(t, srv)
	ctx := context.Background()

	if err := c.RunWith(ctx, &sliceProducer{}, streaming.DefaultMediaConfig(), 0); !errors.Is(err, streaming.ErrNoResponseTypes) {
		t.Errorf("empty types err = %v", err)
	}
	bad := streaming.DefaultMediaConfig()
	bad.Format = "S16 LE"
	if err := c.RunWith(ctx, &sliceProducer{}, bad, streaming.DefaultResponseTypes); !errors.Is(err, streaming.ErrInvalidMediaConfig) {
		t.Errorf("bad media err = %v", err)
	}
	if err := c.Run(ctx, nil); err == nil {
		t.Error("nil producer accepted")
	}
	if c.State() != streaming.StateInitial || srv.Attempts() != 0 {
		t.Errorf("usage errors changed the session: state=%s attempts=%d", c.State(), srv.Attempts())
	}
}

// ── Metrics ───────────────────────────────────────────────────────────────────

func TestRun_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	srv := streamingtest.New(t)
	c := newClient(t, srv, streaming.WithMetrics(mp))
	if err := run(t, c, &sliceProducer{data: audio(32000), size: 3200}, streaming.DefaultResponseTypes); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
					key = fmt.Sprintf("%s{outcome=%s}", m.Name, v.Emit())
				}
				sums[key] += dp.Value
			}
		}
	}

	want := map[string]int64{
		"streamscribe.media.bytes":            32000,
		"streamscribe.media.chunks":           10,
		"streamscribe.sessions{outcome=done}": 1,
		"streamscribe.active_sessions":        0,
		"streamscribe.connect.attempts":       1,
	}
	for name, v := range want {
		if got, ok := sums[name]; !ok || got != v {
			t.Errorf("%s = %d (present %v), want %d", name, got, ok, v)
		}
	}
}
