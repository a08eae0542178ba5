package mapper

import (
	"fmt"
	"time"

	"github.com/jmehdipour/order-saga/internal/model"
)

func ApprovalRequestFromMessage(data []byte) (model.ApprovalRequest, error) {
	var p model.ApprovalRequestPayload
	env, err := decode(data, &p)
	if err != nil {
		return model.ApprovalRequest{}, err
	}
	return model.ApprovalRequest{
		ID:                    env.ID,
		SagaID:                env.SagaID,
		OrderID:               p.OrderID,
		RestaurantID:          p.RestaurantID,
		Products:              p.Products,
		Price:                 p.Price,
		RestaurantOrderStatus: p.RestaurantOrderStatus,
		CreatedAt:             env.CreatedAt,
	}, nil
}

func ApprovalResponseFromMessage(data []byte) (model.ApprovalResponse, error) {
	var p model.ApprovalResponsePayload
	env, err := decode(data, &p)
	if err != nil {
		return model.ApprovalResponse{}, err
	}
	if !p.OrderApprovalStatus.Valid() {
		return model.ApprovalResponse{}, fmt.Errorf("%w: order approval status %q", ErrMalformedMessage, p.OrderApprovalStatus)
	}
	return model.ApprovalResponse{
		ID:                  env.ID,
		SagaID:              env.SagaID,
		OrderID:             p.OrderID,
		RestaurantID:        p.RestaurantID,
		OrderApprovalStatus: p.OrderApprovalStatus,
		FailureMessages:     p.FailureMessages,
		CreatedAt:           env.CreatedAt,
	}, nil
}

func ApprovalResponsePayload(a model.OrderApproval, failures []string, now time.Time) model.ApprovalResponsePayload {
	return model.ApprovalResponsePayload{
		OrderID:             a.OrderID,
		RestaurantID:        a.RestaurantID,
		OrderApprovalStatus: a.Status,
		FailureMessages:     failures,
		CreatedAt:           now,
	}
}
