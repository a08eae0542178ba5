package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (s ApprovalStatus) String() string { return string(s) }

func (s ApprovalStatus) Valid() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// RestaurantOrderStatus is the order state announced to the restaurant.
type RestaurantOrderStatus string

const RestaurantOrderPaid RestaurantOrderStatus = "PAID"

type Restaurant struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// OrderApproval is the restaurant-service aggregate.
type OrderApproval struct {
	ID              uuid.UUID      `db:"id"`
	RestaurantID    uuid.UUID      `db:"restaurant_id"`
	OrderID         uuid.UUID      `db:"order_id"`
	Status          ApprovalStatus `db:"status"`
	FailureMessages string         `db:"failure_messages"`
	CreatedAt       time.Time      `db:"created_at"`
}

type ApprovalRequest struct {
	ID                    uuid.UUID
	SagaID                uuid.UUID
	OrderID               uuid.UUID
	RestaurantID          uuid.UUID
	Products              []ProductLine
	Price                 decimal.Decimal
	RestaurantOrderStatus RestaurantOrderStatus
	CreatedAt             time.Time
}

type ApprovalResponse struct {
	ID                  uuid.UUID
	SagaID              uuid.UUID
	OrderID             uuid.UUID
	RestaurantID        uuid.UUID
	OrderApprovalStatus ApprovalStatus
	FailureMessages     []string
	CreatedAt           time.Time
}

type ApprovalRequestPayload struct {
	OrderID               uuid.UUID             `json:"orderId"`
	RestaurantID          uuid.UUID             `json:"restaurantId"`
	Products              []ProductLine         `json:"products"`
	Price                 decimal.Decimal       `json:"price"`
	RestaurantOrderStatus RestaurantOrderStatus `json:"restaurantOrderStatus"`
	CreatedAt             time.Time             `json:"createdAt"`
}

type ApprovalResponsePayload struct {
	OrderID             uuid.UUID      `json:"orderId"`
	RestaurantID        uuid.UUID      `json:"restaurantId"`
	OrderApprovalStatus ApprovalStatus `json:"orderApprovalStatus"`
	FailureMessages     []string       `json:"failureMessages,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}
