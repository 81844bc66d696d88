package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownResponseType is returned when a response category name does not
// match any known [ResponseType].
var ErrUnknownResponseType = errors.New("streaming: unsupported response type")

// ResponseType is a single category of output the service can produce.
type ResponseType uint8

const (
	// Transcript requests the transcript stream.
	Transcript ResponseType = 1 << iota

	// Captions requests the captions stream.
	Captions
)

// allResponseTypes lists every category in wire-parameter order.
var allResponseTypes = []ResponseType{Transcript, Captions}

// String returns the category name ("Transcript" or "Captions").
func (t ResponseType) String() string {
	switch t {
	case Transcript:
		return "Transcript"
	case Captions:
		return "Captions"
	default:
		return fmt.Sprintf("ResponseType(%d)", uint8(t))
	}
}

// ParseResponseType maps a category name to its [ResponseType]. Wire type
// strings are lower-case ("captions"), so the first letter is matched
// case-insensitively.
func ParseResponseType(name string) (ResponseType, error) {
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	switch name {
	case "Transcript":
		return Transcript, nil
	case "Captions":
		return Captions, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownResponseType, name)
	}
}

// ResponseTypeSet is a set of [ResponseType] values.
type ResponseTypeSet uint8

// DefaultResponseTypes is the set requested when the caller does not choose:
// captions only.
const DefaultResponseTypes = ResponseTypeSet(Captions)

// NewResponseTypeSet returns the set containing types.
func NewResponseTypeSet(types ...ResponseType) ResponseTypeSet {
	var s ResponseTypeSet
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

// ParseResponseTypes parses a comma-separated list of category names, e.g.
// "Transcript,Captions". Whitespace around names is ignored. An empty string
// or an unknown name is an error.
func ParseResponseTypes(names string) (ResponseTypeSet, error) {
	if strings.TrimSpace(names) == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownResponseType)
	}
	var s ResponseTypeSet
	for _, name := range strings.Split(names, ",") {
		t, err := ParseResponseType(strings.TrimSpace(name))
		if err != nil {
			return 0, err
		}
		s = s.With(t)
	}
	return s, nil
}

// With returns s with t added.
func (s ResponseTypeSet) With(t ResponseType) ResponseTypeSet {
	return s | ResponseTypeSet(t)
}

// Has reports whether t is in s.
func (s ResponseTypeSet) Has(t ResponseType) bool {
	return s&ResponseTypeSet(t) != 0
}

// Contains reports whether every member of other is also in s.
func (s ResponseTypeSet) Contains(other ResponseTypeSet) bool {
	return s&other == other
}

// IsEmpty reports whether s has no members.
func (s ResponseTypeSet) IsEmpty() bool {
	return s == 0
}

// Types returns the members of s in wire-parameter order.
func (s ResponseTypeSet) Types() []ResponseType {
	var out []ResponseType
	for _, t := range allResponseTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// String returns "None" for the empty set, otherwise the comma-separated
// member names, e.g. "Transcript,Captions".
func (s ResponseTypeSet) String() string {
	types := s.Types()
	if len(types) == 0 {
		return "None"
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// QueryParams renders s as connection parameters, e.g.
// "get_transcript=True&get_captions=False".
func (s ResponseTypeSet) QueryParams() string {
	return "get_transcript=" + pyBool(s.Has(Transcript)) +
		"&get_captions=" + pyBool(s.Has(Captions))
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ResponseTracker pairs the requested categories of a session with the
// categories for which the service has confirmed end-of-stream. The
// requested set is fixed at construction; the acknowledged set only grows.
// It is safe for concurrent use.
type ResponseTracker struct {
	requested ResponseTypeSet

	mu           sync.Mutex
	acknowledged ResponseTypeSet
}

// NewResponseTracker returns a tracker for the requested categories.
func NewResponseTracker(requested ResponseTypeSet) *ResponseTracker {
	return &ResponseTracker{requested: requested}
}

// Requested returns the requested categories.
func (t *ResponseTracker) Requested() ResponseTypeSet { return t.requested }

// Acknowledged returns the categories whose end-of-stream has been recorded.
func (t *ResponseTracker) Acknowledged() ResponseTypeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acknowledged
}

// IsComplete reports whether end-of-stream has been recorded for every
// requested category.
func (t *ResponseTracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acknowledged.Contains(t.requested)
}

// RecordEOS records end-of-stream for the response's category when the
// response is flagged is_end_of_stream. Responses without the flag or
// without a type are ignored. An unknown type is returned as an error
// wrapping [ErrUnknownResponseType] and leaves the tracker unchanged.
func (t *ResponseTracker) RecordEOS(r *Response) error {
	if r == nil || !r.IsEndOfStream || r.Type == "" {
		return nil
	}
	rt, err := ParseResponseType(r.Type)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.acknowledged = t.acknowledged.With(rt)
	t.mu.Unlock()
	return nil
}

// Message is one inbound frame from the service. Raw holds the frame
// payload exactly as received; Response is nil when the frame carried no
// "response" object.
type Message struct {
	Response *Response `json:"response"`

	Raw json.RawMessage `json:"-"`
}

// Response is the envelope's "response" object. Only Type and
// IsEndOfStream drive the session; the rest is passed through to the
// caller's handler.
type Response struct {
	ID            string        `json:"id,omitempty"`
	Type          string        `json:"type"`
	ServiceType   string        `json:"service_type,omitempty"`
	LanguageCode  string        `json:"language_code,omitempty"`
	IsFinal       bool          `json:"is_final"`
	IsEndOfStream bool          `json:"is_end_of_stream"`
	Speakers      []Speaker     `json:"speakers,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
}

// Transcript returns the transcript text of the first alternative, or "".
func (r *Response) Transcript() string {
	if r == nil || len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0].Transcript
}

// Speaker labels a speaker ID.
type Speaker struct {
	ID    SpeakerID `json:"id"`
	Label string    `json:"label"`
}

// Alternative is one transcription hypothesis.
type Alternative struct {
	Transcript string `json:"transcript"`
	Items      []Item `json:"items,omitempty"`
}

// Item is a timed word or punctuation mark within an [Alternative].
type Item struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	SpeakerID SpeakerID `json:"speaker_id"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
}

// SpeakerID is a speaker identifier. The service sends either a UUID string
// or an integer; both decode to their string form.
type SpeakerID string

// UnmarshalJSON implements [json.Unmarshaler].
func (id *SpeakerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SpeakerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("speaker id: %w", err)
	}
	*id = SpeakerID(n.String())
	return nil
}

// ParseMessage decodes one inbound text frame.
func ParseMessage(payload []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("streaming: decode message: %w", err)
	}
	msg.Raw = append(json.RawMessage(nil), payload...)
	return msg, nil
}
