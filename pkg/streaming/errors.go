package streaming

import (
	"errors"
	"fmt"
)

// Usage errors. They are returned synchronously and leave any existing
// session untouched.
var (
	// ErrEmptyToken is returned by [New] when the access token is empty.
	ErrEmptyToken = errors.New("streaming: access token is required")

	// ErrSessionUsed is returned by [Client.Run] when the client has already
	// run a session. Sessions are single-use; create a new Client to retry.
	ErrSessionUsed = errors.New("streaming: retrying is not currently supported")

	// ErrNoResponseTypes is returned by [Client.Run] when the requested
	// response-type set is empty.
	ErrNoResponseTypes = errors.New("streaming: no response types requested")
)

// Session error codes. Zero means success. Values 400-599 are HTTP status
// codes, values 1000-4999 are WebSocket close codes, and the 9000 range is
// reserved for conditions detected by the client itself.
const (
	CodeOK             = 0
	CodeUnauthorized   = 401
	CodeAbnormalClose  = 1006
	CodeAudioSource    = 9001
	CodeKeepalive      = 9002
	CodeEOSTimeout     = 9003
	CodeStoppedOpening = 9004
)

// SessionError describes why a session did not complete successfully. It is
// returned by [Client.Run]; the same values are available afterwards from
// [Client.ErrorCode] and [Client.ServiceError].
type SessionError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("streaming: session failed with code %d", e.Code)
	}
	return fmt.Sprintf("streaming: session failed with code %d: %s", e.Code, e.Message)
}

// CodeOf returns the session error code carried by err, or [CodeOK] when err
// is nil, or -1 when err is not a [SessionError].
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code
	}
	return -1
}
