package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type SagaType string

const SagaOrderFulfillment SagaType = "ORDER_FULFILLMENT"

type SagaStep string

const (
	StepCreateOrder       SagaStep = "CREATE_ORDER"
	StepPaymentRequested  SagaStep = "PAYMENT_REQUESTED"
	StepPaymentCompleted  SagaStep = "PAYMENT_COMPLETED"
	StepApprovalRequested SagaStep = "APPROVAL_REQUESTED"
	StepApproved          SagaStep = "APPROVED"
	StepCompensating      SagaStep = "COMPENSATING"
	StepRolledBack        SagaStep = "ROLLED_BACK"
	StepRolledBackFailed  SagaStep = "ROLLED_BACK_FAILED"
)

func (s SagaStep) String() string { return string(s) }

// Terminal reports whether no further response may act on the saga.
func (s SagaStep) Terminal() bool {
	return s == StepApproved || s == StepRolledBack || s == StepRolledBackFailed
}

// SagaInstance is the orchestrator's record of one saga run. Rows are never
// deleted.
type SagaInstance struct {
	SagaID      uuid.UUID `db:"saga_id"`
	SagaType    SagaType  `db:"saga_type"`
	OrderID     uuid.UUID `db:"order_id"`
	CurrentStep SagaStep  `db:"current_step"`
	// comma separated names of steps whose compensation is not acknowledged yet
	PendingCompensations string    `db:"pending_compensations"`
	Payload              []byte    `db:"payload"` // OrderPlaced, JSON
	FailureMessages      string    `db:"failure_messages"`
	Version              int64     `db:"version"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (s *SagaInstance) Pending() []string {
	if s.PendingCompensations == "" {
		return nil
	}
	return strings.Split(s.PendingCompensations, ",")
}

func (s *SagaInstance) SetPending(steps []string) {
	s.PendingCompensations = strings.Join(steps, ",")
}

// IsPending reports whether the compensation of step is still outstanding.
func (s *SagaInstance) IsPending(step string) bool {
	for _, p := range s.Pending() {
		if p == step {
			return true
		}
	}
	return false
}

// Acknowledge removes step from the outstanding compensations.
func (s *SagaInstance) Acknowledge(step string) {
	pending := s.Pending()
	out := pending[:0]
	for _, p := range pending {
		if p != step {
			out = append(out, p)
		}
	}
	s.SetPending(out)
}

func (s *SagaInstance) AddFailures(msgs []string) {
	if len(msgs) == 0 {
		return
	}
	joined := strings.Join(msgs, FailureMessageDelimiter)
	if s.FailureMessages == "" {
		s.FailureMessages = joined
		return
	}
	s.FailureMessages += FailureMessageDelimiter + joined
}

// FailureMessageDelimiter joins failure messages stored in a single column.
const FailureMessageDelimiter = ","
