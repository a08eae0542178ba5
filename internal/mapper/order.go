package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
)

// CustomerFromMessage reads a record of the customer topic. Those records
// are not outbox envelopes.
func CustomerFromMessage(data []byte) (model.Customer, error) {
	var p model.CustomerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Customer{}, fmt.Errorf("%w: customer: %v", ErrMalformedMessage, err)
	}
	if p.ID == uuid.Nil {
		return model.Customer{}, fmt.Errorf("%w: customer without id", ErrMalformedMessage)
	}
	return model.Customer{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}, nil
}

// OrderPlaced derives the saga start command from a freshly created order.
func OrderPlaced(o model.Order) model.OrderPlaced {
	products := make([]model.ProductLine, 0, len(o.Items))
	for _, it := range o.Items {
		products = append(products, model.ProductLine{ID: it.ProductID, Quantity: it.Quantity})
	}
	return model.OrderPlaced{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		RestaurantID: o.RestaurantID,
		Price:        o.Price,
		Products:     products,
		CreatedAt:    o.CreatedAt,
	}
}
