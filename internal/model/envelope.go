package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the record published to Kafka for every outbox row.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	SagaID    uuid.UUID       `json:"sagaId"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}
