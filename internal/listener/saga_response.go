package listener

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/saga"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// SagaResponseListener feeds participant responses to the orchestrator on
// the order service and keeps the order aggregate in line with the saga.
type SagaResponseListener struct {
	guard
	orch   *saga.Orchestrator
	orders repository.OrdersRepository
	audit  sagalog.Recorder
}

func NewSagaResponseListener(
	uow repository.UnitOfWork,
	orch *saga.Orchestrator,
	orders repository.OrdersRepository,
	audit sagalog.Recorder,
	log *zap.Logger,
) *SagaResponseListener {
	return &SagaResponseListener{
		guard:  newGuard("saga-response", uow, log),
		orch:   orch,
		orders: orders,
		audit:  audit,
	}
}

func (l *SagaResponseListener) HandlePayment(ctx context.Context, value []byte) error {
	r, err := mapper.PaymentResponseFromMessage(value)
	if err != nil {
		return err
	}
	return l.OnPaymentResponse(ctx, r)
}

func (l *SagaResponseListener) HandleApproval(ctx context.Context, value []byte) error {
	r, err := mapper.ApprovalResponseFromMessage(value)
	if err != nil {
		return err
	}
	return l.OnApprovalResponse(ctx, r)
}

func (l *SagaResponseListener) OnPaymentResponse(ctx context.Context, r model.PaymentResponse) error {
	return l.apply(ctx, saga.PaymentResponse(r))
}

func (l *SagaResponseListener) OnApprovalResponse(ctx context.Context, r model.ApprovalResponse) error {
	return l.apply(ctx, saga.ApprovalResponse(r))
}

// OnPublishFailed ends a compensating saga whose outbox row could not be
// delivered. Any other saga is left for the responses still to come.
func (l *SagaResponseListener) OnPublishFailed(ctx context.Context, m model.OutboxMessage, reason string) {
	fields := []zap.Field{
		zap.Stringer("saga_id", m.SagaID),
		zap.Stringer("outbox_id", m.ID),
		zap.String("type", m.Type),
	}
	var res saga.Result
	err := l.runOnce(ctx, fields, func(tx *sqlx.Tx) error {
		r, err := l.orch.FailCompensation(ctx, tx, m.SagaID, reason)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		l.log.Error("fail compensation", append(fields, zap.Error(err))...)
		return
	}
	saga.RecordTransitions(ctx, l.audit, l.log, res)
}

func (l *SagaResponseListener) apply(ctx context.Context, resp saga.Response) error {
	fields := []zap.Field{
		zap.Stringer("saga_id", resp.SagaID),
		zap.String("step", resp.Step),
		zap.String("status", resp.Status),
	}
	var res saga.Result
	err := l.runOnce(ctx, fields, func(tx *sqlx.Tx) error {
		r, err := l.orch.Handle(ctx, tx, resp)
		if err != nil {
			return err
		}
		if err := l.syncOrder(ctx, tx, r.Saga.OrderID, r.Step(), resp.FailureMessages); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return err
	}
	saga.RecordTransitions(ctx, l.audit, l.log, res)
	return nil
}

// syncOrder moves the order to the status matching the saga step.
func (l *SagaResponseListener) syncOrder(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, step model.SagaStep, failures []string) error {
	o, err := l.orders.Get(ctx, tx, orderID)
	if err != nil {
		return err
	}

	switch step {
	case model.StepApprovalRequested:
		err = o.Pay()
	case model.StepApproved:
		err = o.Approve()
	case model.StepCompensating:
		if o.Status == model.OrderCancelling {
			return nil
		}
		err = o.InitCancel(failures)
	case model.StepRolledBack:
		err = o.Cancel(failures)
	case model.StepRolledBackFailed:
		l.log.Error("order left in place after failed rollback",
			zap.Stringer("order_id", o.ID),
			zap.Stringer("order_status", o.Status),
		)
		return nil
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return l.orders.UpdateStatus(ctx, tx, o)
}
