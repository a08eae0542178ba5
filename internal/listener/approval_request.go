package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ApprovalRequestListener serves order-approval-request on the restaurant
// service.
type ApprovalRequestListener struct {
	guard
	restaurants repository.RestaurantsRepository
	approvals   repository.ApprovalsRepository
	outbox      repository.OutboxRepository
	now         func() time.Time
}

func NewApprovalRequestListener(
	uow repository.UnitOfWork,
	restaurants repository.RestaurantsRepository,
	approvals repository.ApprovalsRepository,
	outbox repository.OutboxRepository,
	log *zap.Logger,
) *ApprovalRequestListener {
	return &ApprovalRequestListener{
		guard:       newGuard("approval-request", uow, log),
		restaurants: restaurants,
		approvals:   approvals,
		outbox:      outbox,
		now:         model.Now,
	}
}

func (l *ApprovalRequestListener) Handle(ctx context.Context, value []byte) error {
	req, err := mapper.ApprovalRequestFromMessage(value)
	if err != nil {
		return err
	}
	return l.ApproveOrder(ctx, req)
}

// ApproveOrder accepts the order when the restaurant is open for it and
// rejects it otherwise.
func (l *ApprovalRequestListener) ApproveOrder(ctx context.Context, req model.ApprovalRequest) error {
	fields := []zap.Field{
		zap.Stringer("saga_id", req.SagaID),
		zap.Stringer("order_id", req.OrderID),
		zap.Stringer("restaurant_id", req.RestaurantID),
	}
	return l.runOnce(ctx, fields, func(tx *sqlx.Tx) error {
		done, err := l.outbox.ExistsProcessed(ctx, tx, req.SagaID, model.OutboxTypeApproval,
			string(model.ApprovalApproved), string(model.ApprovalRejected))
		if err != nil {
			return err
		}
		if done {
			return errAlreadyProcessed
		}

		failures, err := l.validate(ctx, tx, req)
		if err != nil {
			return err
		}

		now := l.now()
		a := model.OrderApproval{
			ID:           uuid.New(),
			RestaurantID: req.RestaurantID,
			OrderID:      req.OrderID,
			Status:       model.ApprovalApproved,
			CreatedAt:    now,
		}
		if len(failures) > 0 {
			a.Status = model.ApprovalRejected
			a.FailureMessages = strings.Join(failures, model.FailureMessageDelimiter)
		}
		if err := l.approvals.Insert(ctx, tx, &a); err != nil {
			return err
		}

		payload, err := mapper.Payload(mapper.ApprovalResponsePayload(a, failures, now))
		if err != nil {
			return err
		}
		msg := model.NewOutboxMessage(req.SagaID, model.OutboxTypeApproval, string(a.Status), payload, now)
		return l.outbox.Save(ctx, tx, msg)
	})
}

func (l *ApprovalRequestListener) validate(ctx context.Context, tx *sqlx.Tx, req model.ApprovalRequest) ([]string, error) {
	var failures []string

	r, err := l.restaurants.Get(ctx, tx, req.RestaurantID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		failures = append(failures, fmt.Sprintf("restaurant %s not found", req.RestaurantID))
	case err != nil:
		return nil, err
	case !r.Active:
		failures = append(failures, fmt.Sprintf("restaurant %s is currently not active", r.ID))
	}

	if len(req.Products) == 0 {
		failures = append(failures, "order has no products")
	}
	for _, p := range req.Products {
		if p.Quantity <= 0 {
			failures = append(failures, fmt.Sprintf("product %s has invalid quantity %d", p.ID, p.Quantity))
		}
	}
	return failures, nil
}
