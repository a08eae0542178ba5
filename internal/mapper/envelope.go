// Package mapper translates between wire records and domain values. All
// functions are pure.
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
)

// ErrMalformedMessage marks a payload that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// EncodeEnvelope wraps an outbox row into the published JSON record.
func EncodeEnvelope(m model.OutboxMessage) ([]byte, error) {
	if !json.Valid(m.Payload) {
		return nil, fmt.Errorf("%w: outbox %s payload is not JSON", ErrMalformedMessage, m.ID)
	}
	return json.Marshal(model.Envelope{
		ID:        m.ID,
		SagaID:    m.SagaID,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
		Payload:   json.RawMessage(m.Payload),
	})
}

// decode splits a published record into its envelope and typed payload.
func decode(data []byte, payload any) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: envelope: %v", ErrMalformedMessage, err)
	}
	if env.ID == uuid.Nil || env.SagaID == uuid.Nil {
		return env, fmt.Errorf("%w: envelope without id or sagaId", ErrMalformedMessage)
	}
	if len(env.Payload) == 0 {
		return env, fmt.Errorf("%w: envelope %s without payload", ErrMalformedMessage, env.ID)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return env, fmt.Errorf("%w: payload of %s: %v", ErrMalformedMessage, env.ID, err)
	}
	return env, nil
}

// Payload marshals an outbox payload.
func Payload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
