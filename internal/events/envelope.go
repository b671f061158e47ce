package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event crossing the bus. On the wire it is a JSON
// object with camelCase field names; Payload carries the typed domain event
// in-process and its serialised form remotely.
type Envelope struct {
	Topic         Topic     `json:"topic"`
	Payload       any       `json:"payload"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// NewEnvelope stamps a payload with source, correlation id and UTC time.
// An empty correlation id is replaced with a fresh uuid so downstream
// services can always join log lines to one pipeline pass.
func NewEnvelope(topic Topic, payload any, source, correlationID string) Envelope {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		Topic:         topic,
		Payload:       payload,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Source:        source,
	}
}

// Encode serialises the envelope for the remote transport.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire envelope. Payload is left as raw JSON for the
// subscriber to decode into its own type.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var wire struct {
		Topic         Topic           `json:"topic"`
		Payload       json.RawMessage `json:"payload"`
		CorrelationID string          `json:"correlationId"`
		Timestamp     time.Time       `json:"timestamp"`
		Source        string          `json:"source"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Topic:         wire.Topic,
		Payload:       wire.Payload,
		CorrelationID: wire.CorrelationID,
		Timestamp:     wire.Timestamp,
		Source:        wire.Source,
	}, nil
}

// DecodePayload unmarshals the payload of a remotely received envelope into
// dst. For in-process envelopes the payload is already typed and callers
// should type-assert instead.
func DecodePayload(e Envelope, dst any) error {
	raw, ok := e.Payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, dst)
}
