package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// PaymentOrderStatus is what the order service asks the payment service to do.
type PaymentOrderStatus string

const (
	PaymentOrderPending   PaymentOrderStatus = "PENDING"
	PaymentOrderCancelled PaymentOrderStatus = "CANCELLED"
)

func (s PaymentOrderStatus) Valid() bool {
	return s == PaymentOrderPending || s == PaymentOrderCancelled
}

// Payment is the payment-service aggregate.
type Payment struct {
	ID              uuid.UUID       `db:"id"`
	CustomerID      uuid.UUID       `db:"customer_id"`
	OrderID         uuid.UUID       `db:"order_id"`
	Price           decimal.Decimal `db:"price"`
	Status          PaymentStatus   `db:"status"`
	FailureMessages string          `db:"failure_messages"`
	CreatedAt       time.Time       `db:"created_at"`
}

// CreditEntry is the spendable credit of a customer.
type CreditEntry struct {
	CustomerID  uuid.UUID       `db:"customer_id"`
	TotalCredit decimal.Decimal `db:"total_credit"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

type CreditOp string

const (
	CreditDebit  CreditOp = "DEBIT"
	CreditCredit CreditOp = "CREDIT"
)

// PaymentRequest is the payment service's view of an order-payment-request.
type PaymentRequest struct {
	ID                 uuid.UUID
	SagaID             uuid.UUID
	OrderID            uuid.UUID
	CustomerID         uuid.UUID
	Price              decimal.Decimal
	PaymentOrderStatus PaymentOrderStatus
	CreatedAt          time.Time
}

// PaymentResponse is the order service's view of an order-payment-response.
type PaymentResponse struct {
	ID              uuid.UUID
	SagaID          uuid.UUID
	PaymentID       uuid.UUID
	CustomerID      uuid.UUID
	OrderID         uuid.UUID
	Price           decimal.Decimal
	PaymentStatus   PaymentStatus
	FailureMessages []string
	CreatedAt       time.Time
}

// PaymentRequestPayload is the outbox payload of a payment request.
type PaymentRequestPayload struct {
	OrderID            uuid.UUID          `json:"orderId"`
	CustomerID         uuid.UUID          `json:"customerId"`
	Price              decimal.Decimal    `json:"price"`
	PaymentOrderStatus PaymentOrderStatus `json:"paymentOrderStatus"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// PaymentResponsePayload is the outbox payload of a payment response.
type PaymentResponsePayload struct {
	PaymentID       uuid.UUID       `json:"paymentId"`
	CustomerID      uuid.UUID       `json:"customerId"`
	OrderID         uuid.UUID       `json:"orderId"`
	Price           decimal.Decimal `json:"price"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	FailureMessages []string        `json:"failureMessages,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}
