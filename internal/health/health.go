// Package health serves the liveness and readiness endpoints of the
// streamscribe CLI.
//
//   - /healthz: always 200 while the process can serve HTTP.
//   - /readyz: 200 only when every registered [Checker] passes.
//
// Both respond with a JSON object carrying a "status" of "ok" or "fail" and,
// for /readyz, a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/pkg/streaming"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name is the key under which the result is reported, e.g. "session".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. On each /readyz request all checkers run
// concurrently.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports 200 when every checker passes and 503 otherwise. Each
// checker gets a context derived from the request with a [checkTimeout]
// deadline.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			// A failing check must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// SessionSource is the part of [streaming.Client] inspected by
// [SessionChecker].
type SessionSource interface {
	State() streaming.State
	ErrorCode() int
	ServiceError() string
}

// SessionChecker reports ready while the session is streaming or has
// completed cleanly. A session that has not connected yet, failed, or
// recorded an error code (say an end-of-stream timeout that still ended in
// done) is not ready.
func SessionChecker(name string, src SessionSource) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := src.State()
			code := src.ErrorCode()
			switch {
			case st == streaming.StateFailed:
				return fmt.Errorf("session failed with code %d: %s", code, src.ServiceError())
			case code != streaming.CodeOK:
				return fmt.Errorf("session %s with code %d: %s", st, code, src.ServiceError())
			}
			switch st {
			case streaming.StateOpen, streaming.StateClosing, streaming.StateDone:
				return nil
			default:
				return fmt.Errorf("session is %s", st)
			}
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
