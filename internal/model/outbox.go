package model

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStarted   OutboxStatus = "STARTED"
	OutboxCompleted OutboxStatus = "COMPLETED"
	OutboxFailed    OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

// Outbox types. Each service routes a type to the topic it publishes on.
const (
	OutboxTypePayment  = "PAYMENT"
	OutboxTypeApproval = "APPROVAL"
)

// OutboxMessage is a row of the per-service outbox table.
type OutboxMessage struct {
	ID            uuid.UUID    `db:"id"`
	SagaID        uuid.UUID    `db:"saga_id"`
	Type          string       `db:"type"`
	EventStatus   string       `db:"event_status"` // domain outcome carried by the payload
	Payload       []byte       `db:"payload"`
	OutboxStatus  OutboxStatus `db:"outbox_status"`
	FailureReason *string      `db:"failure_reason"`
	Version       int64        `db:"version"`
	CreatedAt     time.Time    `db:"created_at"`
	ProcessedAt   *time.Time   `db:"processed_at"`
}

// NewOutboxMessage builds a STARTED row at version 0.
func NewOutboxMessage(sagaID uuid.UUID, typ, eventStatus string, payload []byte, now time.Time) *OutboxMessage {
	return &OutboxMessage{
		ID:           uuid.New(),
		SagaID:       sagaID,
		Type:         typ,
		EventStatus:  eventStatus,
		Payload:      payload,
		OutboxStatus: OutboxStarted,
		CreatedAt:    now,
	}
}
