package mapper

import (
	"fmt"
	"time"

	"github.com/jmehdipour/order-saga/internal/model"
)

func PaymentRequestFromMessage(data []byte) (model.PaymentRequest, error) {
	var p model.PaymentRequestPayload
	env, err := decode(data, &p)
	if err != nil {
		return model.PaymentRequest{}, err
	}
	if !p.PaymentOrderStatus.Valid() {
		return model.PaymentRequest{}, fmt.Errorf("%w: payment order status %q", ErrMalformedMessage, p.PaymentOrderStatus)
	}
	return model.PaymentRequest{
		ID:                 env.ID,
		SagaID:             env.SagaID,
		OrderID:            p.OrderID,
		CustomerID:         p.CustomerID,
		Price:              p.Price,
		PaymentOrderStatus: p.PaymentOrderStatus,
		CreatedAt:          env.CreatedAt,
	}, nil
}

func PaymentResponseFromMessage(data []byte) (model.PaymentResponse, error) {
	var p model.PaymentResponsePayload
	env, err := decode(data, &p)
	if err != nil {
		return model.PaymentResponse{}, err
	}
	if !p.PaymentStatus.Valid() {
		return model.PaymentResponse{}, fmt.Errorf("%w: payment status %q", ErrMalformedMessage, p.PaymentStatus)
	}
	return model.PaymentResponse{
		ID:              env.ID,
		SagaID:          env.SagaID,
		PaymentID:       p.PaymentID,
		CustomerID:      p.CustomerID,
		OrderID:         p.OrderID,
		Price:           p.Price,
		PaymentStatus:   p.PaymentStatus,
		FailureMessages: p.FailureMessages,
		CreatedAt:       env.CreatedAt,
	}, nil
}

// PaymentResponsePayload builds the response the payment service publishes.
func PaymentResponsePayload(p model.Payment, failures []string, now time.Time) model.PaymentResponsePayload {
	return model.PaymentResponsePayload{
		PaymentID:       p.ID,
		CustomerID:      p.CustomerID,
		OrderID:         p.OrderID,
		Price:           p.Price,
		PaymentStatus:   p.Status,
		FailureMessages: failures,
		CreatedAt:       now,
	}
}
