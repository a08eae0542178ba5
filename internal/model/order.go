package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderPaid       OrderStatus = "PAID"
	OrderApproved   OrderStatus = "APPROVED"
	OrderCancelling OrderStatus = "CANCELLING"
	OrderCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) String() string { return string(s) }

// Order is the order-service aggregate.
type Order struct {
	ID              uuid.UUID       `db:"id"`
	CustomerID      uuid.UUID       `db:"customer_id"`
	RestaurantID    uuid.UUID       `db:"restaurant_id"`
	TrackingID      string          `db:"tracking_id"`
	Price           decimal.Decimal `db:"price"`
	Status          OrderStatus     `db:"status"`
	FailureMessages string          `db:"failure_messages"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`

	Items []OrderItem `db:"-"`
}

type OrderItem struct {
	OrderID   uuid.UUID       `db:"order_id"`
	ItemNo    int             `db:"item_no"`
	ProductID uuid.UUID       `db:"product_id"`
	Quantity  int             `db:"quantity"`
	Price     decimal.Decimal `db:"price"`
	SubTotal  decimal.Decimal `db:"sub_total"`
}

func (o *Order) Pay() error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: pay from %s", ErrInvalidOrderState, o.Status)
	}
	o.Status = OrderPaid
	return nil
}

func (o *Order) Approve() error {
	if o.Status != OrderPaid {
		return fmt.Errorf("%w: approve from %s", ErrInvalidOrderState, o.Status)
	}
	o.Status = OrderApproved
	return nil
}

func (o *Order) InitCancel(failures []string) error {
	if o.Status != OrderPaid {
		return fmt.Errorf("%w: init cancel from %s", ErrInvalidOrderState, o.Status)
	}
	o.Status = OrderCancelling
	o.addFailures(failures)
	return nil
}

func (o *Order) Cancel(failures []string) error {
	if o.Status != OrderPending && o.Status != OrderCancelling {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidOrderState, o.Status)
	}
	o.Status = OrderCancelled
	o.addFailures(failures)
	return nil
}

func (o *Order) addFailures(msgs []string) {
	var kept []string
	for _, m := range msgs {
		if strings.TrimSpace(m) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return
	}
	joined := strings.Join(kept, FailureMessageDelimiter)
	if o.FailureMessages == "" {
		o.FailureMessages = joined
		return
	}
	o.FailureMessages += FailureMessageDelimiter + joined
}

// ProductLine is one product of an order as carried by saga messages.
type ProductLine struct {
	ID       uuid.UUID `json:"id"`
	Quantity int       `json:"quantity"`
}

// OrderPlaced is the command that starts an order fulfillment saga.
type OrderPlaced struct {
	OrderID      uuid.UUID       `json:"orderId"`
	CustomerID   uuid.UUID       `json:"customerId"`
	RestaurantID uuid.UUID       `json:"restaurantId"`
	Price        decimal.Decimal `json:"price"`
	Products     []ProductLine   `json:"products"`
	CreatedAt    time.Time       `json:"createdAt"`
}
