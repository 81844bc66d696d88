package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/streamscribe/pkg/streaming"
)

func serve(t *testing.T, handler http.HandlerFunc, req *http.Request) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	code, body := serve(t, h.Healthz, httptest.NewRequest("GET", "/healthz", nil))
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
	if len(body.Checks) != 0 {
		t.Errorf("healthz ran checks: %v", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "session", Check: ok}, {Name: "config", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"session": "ok", "config": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "session", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "config", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "fail: connection refused", "config": "ok"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(tc.checkers...)
			code, body := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil))
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	var running atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusOK {
		t.Errorf("status = %d, checks %v", code, body.Checks)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _ := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "session", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

type fakeSession struct {
	state  streaming.State
	code   int
	reason string
}

func (f fakeSession) State() streaming.State { return f.state }
func (f fakeSession) ErrorCode() int         { return f.code }
func (f fakeSession) ServiceError() string   { return f.reason }

func TestSessionChecker(t *testing.T) {
	tests := []struct {
		src     fakeSession
		wantErr string
	}{
		{fakeSession{state: streaming.StateInitial}, "session is initial"},
		{fakeSession{state: streaming.StateOpening}, "session is opening"},
		{fakeSession{state: streaming.StateOpen}, ""},
		{fakeSession{state: streaming.StateClosing}, ""},
		{fakeSession{state: streaming.StateDone}, ""},
		{fakeSession{state: streaming.StateFailed, code: 401, reason: "Unauthorized"}, "session failed with code 401: Unauthorized"},
		{fakeSession{state: streaming.StateDone, code: streaming.CodeEOSTimeout, reason: "timed out"}, "session done with code 9003: timed out"},
		{fakeSession{state: streaming.StateDone, code: streaming.CodeKeepalive, reason: "no ping"}, "session done with code 9002: no ping"},
		{fakeSession{state: streaming.StateClosing, code: streaming.CodeAudioSource, reason: "unplugged"}, "session closing with code 9001: unplugged"},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%d", tc.src.state, tc.src.code), func(t *testing.T) {
			err := SessionChecker("session", tc.src).Check(context.Background())
			switch {
			case tc.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tc.wantErr != "" && (err == nil || err.Error() != tc.wantErr):
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
