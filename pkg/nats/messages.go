package nats

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps every published payload
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope
func NewEnvelope(id, eventType, source string, ts time.Time, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Envelope{
		ID:        id,
		Type:      eventType,
		Source:    source,
		Timestamp: ts,
		Payload:   data,
	}, nil
}

// DecodeEnvelope parses a message body and its payload into out
func DecodeEnvelope(data []byte, out interface{}) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
		}
	}
	return &env, nil
}
