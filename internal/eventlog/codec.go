package eventlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

var ErrUnknownEvent = errors.New("eventlog: unknown event type")

func timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Encode serializes ev as one JSON object with its type and timestamp set.
// A zero Timestamp is stamped with the current time.
func Encode(ev Event) ([]byte, error) {
	h := ev.header()
	h.Type = ev.Kind()
	if h.Timestamp == 0 {
		h.Timestamp = timestamp(time.Now())
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", h.Type, err)
	}
	return b, nil
}

// Decode parses one line produced by Encode back into its concrete struct.
func Decode(line []byte) (Event, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &peek); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	ev := newEvent(peek.Type)
	if ev == nil {
		return nil, fmt.Errorf("decode event %q: %w", peek.Type, ErrUnknownEvent)
	}
	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", peek.Type, err)
	}
	return ev, nil
}

// Stamp sets the event timestamp explicitly, e.g. to a message's pub date.
func Stamp(ev Event, t time.Time) Event {
	ev.header().Timestamp = timestamp(t)
	return ev
}
