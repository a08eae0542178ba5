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

// PaymentRequestListener serves order-payment-request on the payment service.
type PaymentRequestListener struct {
	guard
	payments repository.PaymentsRepository
	credit   repository.CreditRepository
	history  repository.CreditHistoryRepository
	outbox   repository.OutboxRepository
	now      func() time.Time
}

func NewPaymentRequestListener(
	uow repository.UnitOfWork,
	payments repository.PaymentsRepository,
	credit repository.CreditRepository,
	history repository.CreditHistoryRepository,
	outbox repository.OutboxRepository,
	log *zap.Logger,
) *PaymentRequestListener {
	return &PaymentRequestListener{
		guard:    newGuard("payment-request", uow, log),
		payments: payments,
		credit:   credit,
		history:  history,
		outbox:   outbox,
		now:      model.Now,
	}
}

// Handle decodes a published request and completes or cancels the payment.
func (l *PaymentRequestListener) Handle(ctx context.Context, value []byte) error {
	req, err := mapper.PaymentRequestFromMessage(value)
	if err != nil {
		return err
	}
	if req.PaymentOrderStatus == model.PaymentOrderCancelled {
		return l.CancelPayment(ctx, req)
	}
	return l.CompletePayment(ctx, req)
}

// CompletePayment debits the customer's credit and answers COMPLETED, or
// FAILED when the price or the credit does not allow it.
func (l *PaymentRequestListener) CompletePayment(ctx context.Context, req model.PaymentRequest) error {
	return l.runOnce(ctx, paymentFields(req), func(tx *sqlx.Tx) error {
		done, err := l.outbox.ExistsProcessed(ctx, tx, req.SagaID, model.OutboxTypePayment,
			string(model.PaymentCompleted), string(model.PaymentFailed))
		if err != nil {
			return err
		}
		if done {
			return errAlreadyProcessed
		}
		// the answer depends on the credit left, so a redelivery is
		// recognised by the order, never by the outcome
		prior, err := l.payments.GetByOrderID(ctx, tx, req.OrderID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: order %s already paid with status %s", model.ErrDuplicateRequest, req.OrderID, prior.Status)
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		now := l.now()
		p := model.Payment{
			ID:         uuid.New(),
			CustomerID: req.CustomerID,
			OrderID:    req.OrderID,
			Price:      req.Price,
			Status:     model.PaymentCompleted,
			CreatedAt:  now,
		}

		var failures []string
		if !req.Price.IsPositive() {
			failures = append(failures, "total price must be greater than zero")
		} else {
			ok, err := l.credit.Debit(ctx, tx, req.CustomerID, req.Price)
			if err != nil {
				return err
			}
			if !ok {
				failures = append(failures, fmt.Sprintf("customer %s doesn't have enough credit for payment", req.CustomerID))
			}
		}
		if len(failures) > 0 {
			p.Status = model.PaymentFailed
			p.FailureMessages = strings.Join(failures, model.FailureMessageDelimiter)
		}

		if err := l.payments.Insert(ctx, tx, &p); err != nil {
			return err
		}
		if p.Status == model.PaymentCompleted {
			if err := l.history.InsertDebit(ctx, tx, p.CustomerID, p.ID, p.Price); err != nil {
				return err
			}
		}
		return l.respond(ctx, tx, req.SagaID, p, failures, now)
	})
}

// CancelPayment refunds a completed payment. A payment that cannot be found
// is answered with FAILED.
func (l *PaymentRequestListener) CancelPayment(ctx context.Context, req model.PaymentRequest) error {
	return l.runOnce(ctx, paymentFields(req), func(tx *sqlx.Tx) error {
		done, err := l.outbox.ExistsProcessed(ctx, tx, req.SagaID, model.OutboxTypePayment, string(model.PaymentCancelled))
		if err != nil {
			return err
		}
		if done {
			return errAlreadyProcessed
		}

		now := l.now()
		p, err := l.payments.GetByOrderID(ctx, tx, req.OrderID)
		if errors.Is(err, model.ErrNotFound) {
			answered, err := l.outbox.ExistsProcessed(ctx, tx, req.SagaID, model.OutboxTypePayment, string(model.PaymentFailed))
			if err != nil {
				return err
			}
			if answered {
				return errAlreadyProcessed
			}
			missing := model.Payment{
				CustomerID: req.CustomerID,
				OrderID:    req.OrderID,
				Price:      req.Price,
				Status:     model.PaymentFailed,
			}
			return l.respond(ctx, tx, req.SagaID, missing, []string{fmt.Sprintf("payment of order %s not found", req.OrderID)}, now)
		}
		if err != nil {
			return err
		}
		if p.Status == model.PaymentCancelled {
			return fmt.Errorf("%w: payment of order %s already cancelled", model.ErrDuplicateRequest, req.OrderID)
		}

		if p.Status == model.PaymentCompleted {
			if err := l.credit.Refund(ctx, tx, p.CustomerID, p.Price); err != nil {
				return err
			}
			if err := l.history.InsertRefund(ctx, tx, p.CustomerID, p.ID, p.Price); err != nil {
				return err
			}
		}
		p.Status = model.PaymentCancelled
		if err := l.payments.UpdateStatus(ctx, tx, p); err != nil {
			return err
		}
		return l.respond(ctx, tx, req.SagaID, *p, nil, now)
	})
}

func (l *PaymentRequestListener) respond(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID, p model.Payment, failures []string, now time.Time) error {
	payload, err := mapper.Payload(mapper.PaymentResponsePayload(p, failures, now))
	if err != nil {
		return err
	}
	msg := model.NewOutboxMessage(sagaID, model.OutboxTypePayment, string(p.Status), payload, now)
	return l.outbox.Save(ctx, tx, msg)
}

func paymentFields(req model.PaymentRequest) []zap.Field {
	return []zap.Field{
		zap.Stringer("saga_id", req.SagaID),
		zap.Stringer("order_id", req.OrderID),
		zap.String("payment_order_status", string(req.PaymentOrderStatus)),
	}
}
