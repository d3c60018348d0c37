package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AnonymousActor is recorded when the session has no actor.
const AnonymousActor = "anonymous"

// DefaultPage is recorded when the session has no page path.
const DefaultPage = "/"

// OpTimeLayout renders the human-readable timestamp (ISO-8601, UTC, milliseconds).
const OpTimeLayout = "2006-01-02T15:04:05.000Z"

var emptyPayload = json.RawMessage(`{}`)

// Event is one recorded dashboard interaction. It is immutable once built:
// fields are only reachable through accessors and Payload returns a copy.
type Event struct {
	name    string
	payload json.RawMessage
	actor   string
	at      time.Time
	page    string
}

// wire is the collector's JSON shape for a single event.
type wire struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	User    string          `json:"user"`
	TS      int64           `json:"ts"`
	OpTime  string          `json:"opTime"`
	Page    string          `json:"page"`
}

// New builds an Event. payload is serialized immediately; anything json.Marshal
// accepts is allowed, including a json.RawMessage captured earlier.
func New(name string, payload any, actor, page string, at time.Time) (Event, error) {
	if name == "" {
		return Event{}, errors.New("event name is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", name, err)
	}
	if actor == "" {
		actor = AnonymousActor
	}
	if page == "" {
		page = DefaultPage
	}
	return Event{
		name:    name,
		payload: raw,
		actor:   actor,
		at:      at.UTC().Truncate(time.Millisecond),
		page:    page,
	}, nil
}

// EncodePayload serializes a payload the same way New does.
func EncodePayload(payload any) (json.RawMessage, error) {
	return encodePayload(payload)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyPayload, nil
		}
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return bytes.Clone(p), nil
	case map[string]any:
		if p == nil {
			return emptyPayload, nil
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return emptyPayload, nil
	}
	return raw, nil
}

func (e Event) Name() string  { return e.name }
func (e Event) Actor() string { return e.actor }
func (e Event) Page() string  { return e.page }

// Time is the instant the event was built.
func (e Event) Time() time.Time { return e.at }

// TS is the epoch-millisecond timestamp.
func (e Event) TS() int64 { return e.at.UnixMilli() }

// OpTime is the ISO-8601 timestamp.
func (e Event) OpTime() string { return e.at.Format(OpTimeLayout) }

// Payload returns a copy of the serialized payload.
func (e Event) Payload() json.RawMessage { return bytes.Clone(e.payload) }

// DecodePayload unmarshals the payload into v.
func (e Event) DecodePayload(v any) error {
	return json.Unmarshal(e.payload, v)
}

func (e Event) MarshalJSON() ([]byte, error) {
	payload := e.payload
	if len(payload) == 0 {
		payload = emptyPayload
	}
	return json.Marshal(wire{
		Event:   e.name,
		Payload: payload,
		User:    e.actor,
		TS:      e.TS(),
		OpTime:  e.OpTime(),
		Page:    e.page,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	at := time.UnixMilli(w.TS).UTC()
	if w.TS == 0 && w.OpTime != "" {
		t, err := time.Parse(time.RFC3339Nano, w.OpTime)
		if err != nil {
			return fmt.Errorf("parse opTime %q: %w", w.OpTime, err)
		}
		at = t.UTC()
	}
	*e = Event{
		name:    w.Event,
		payload: bytes.Clone(w.Payload),
		actor:   w.User,
		at:      at,
		page:    w.Page,
	}
	return nil
}

// Batch is the envelope shipped to the collector.
type Batch struct {
	Events []Event `json:"events"`
}

// Encode serializes events as a Batch body.
func Encode(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	body, err := json.Marshal(Batch{Events: events})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return body, nil
}

// Decode parses a Batch body.
func Decode(body []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(body, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}
