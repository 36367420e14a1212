// Package eventsource adapts inbound transports to the dispatcher. Both
// adapters assume at-least-once delivery with no ordering guarantee, and
// acknowledge a message only once the dispatcher reports a terminal outcome
// (COMPLETED, SKIPPED or PERMANENTLY_FAILED). A crash before the ack leads
// to redelivery, which the idempotency store absorbs.
package eventsource

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/catalog-sdk/dispatch"
)

// ChangeMessage is the wire envelope for catalog change notifications.
type ChangeMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// Validate checks the envelope is well-formed enough to dispatch.
func (m *ChangeMessage) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Type == "" {
		return errors.New("message type is required")
	}
	return nil
}

// decodeEvent parses and validates a raw message body into a dispatchable
// event. Undecodable bodies are poison: the caller should log and ack them
// rather than let them redeliver forever.
func decodeEvent(data []byte) (dispatch.Event, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return dispatch.Event{}, fmt.Errorf("eventsource: undecodable message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return dispatch.Event{}, fmt.Errorf("eventsource: invalid envelope: %w", err)
	}
	return dispatch.Event{
		ID:         msg.ID,
		Type:       msg.Type,
		Payload:    msg.Payload,
		ReceivedAt: time.Now(),
	}, nil
}
