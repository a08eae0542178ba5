package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer is the order service's local replica of a customer.
type Customer struct {
	ID        uuid.UUID `db:"id"`
	Username  string    `db:"username"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	CreatedAt time.Time `db:"created_at"`
}

// CustomerPayload is the record published on the customer topic.
type CustomerPayload struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
}
