package domain

import (
	"encoding/json"
	"time"
)

// Event is an immutable notification ingested from a producer.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   Object            `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Body returns the exact bytes sent to webhook receivers and stream clients.
func (e Event) Body() ([]byte, error) {
	if e.Payload == nil {
		e.Payload = Object{}
	}
	return json.Marshal(e)
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = append(Object(nil), e.Payload...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
