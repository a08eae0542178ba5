// Package sagalog keeps an append-only audit trail of saga transitions.
package sagalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
)

// Transition is one move of a saga from one step to another.
type Transition struct {
	SagaID   uuid.UUID      `json:"sagaId"`
	SagaType model.SagaType `json:"sagaType"`
	From     model.SagaStep `json:"from"`
	To       model.SagaStep `json:"to"`
	Reason   string         `json:"reason,omitempty"`
	At       time.Time      `json:"at"`
}

// Recorder appends transitions after the unit of work that produced them
// committed.
type Recorder interface {
	Record(ctx context.Context, ts ...Transition) error
}

// Reader lists the recorded transitions of one saga, oldest first.
type Reader interface {
	ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]Transition, error)
}

// Nop discards transitions. Used when no audit store is configured.
type Nop struct{}

func (Nop) Record(context.Context, ...Transition) error { return nil }

func (Nop) ListBySaga(context.Context, uuid.UUID) ([]Transition, error) { return nil, nil }
