package listener

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/dbtest"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/saga"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memoryRecorder struct {
	mu sync.Mutex
	ts []sagalog.Transition
}

func (r *memoryRecorder) Record(_ context.Context, ts ...sagalog.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ts = append(r.ts, ts...)
	return nil
}

func (r *memoryRecorder) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ts))
	for _, t := range r.ts {
		out = append(out, string(t.To))
	}
	return out
}

type orderFixture struct {
	db     *sqlx.DB
	orders *repository.OrdersRepositoryImpl
	audit  *memoryRecorder
	l      *SagaResponseListener
	logs   *observer.ObservedLogs
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	db := dbtest.Open(t, dbtest.Order)
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)
	f := &orderFixture{
		db:     db,
		orders: repository.NewOrdersRepository(db),
		audit:  &memoryRecorder{},
		logs:   logs,
	}
	orch := saga.NewOrderOrchestrator(repository.NewSagaRepository(db), repository.NewOutboxRepository(db), log)
	f.l = NewSagaResponseListener(repository.NewTransactor(db), orch, f.orders, f.audit, log)
	return f
}

// place stores a pending order and starts its saga.
func (f *orderFixture) place(t *testing.T) (model.Order, uuid.UUID) {
	t.Helper()
	now := model.Now()
	o := model.Order{
		ID:           uuid.New(),
		CustomerID:   testCustomer,
		RestaurantID: uuid.New(),
		TrackingID:   uuid.NewString(),
		Price:        decimal.NewFromInt(100),
		Status:       model.OrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Items: []model.OrderItem{{
			ItemNo: 1, ProductID: uuid.New(), Quantity: 1,
			Price: decimal.NewFromInt(100), SubTotal: decimal.NewFromInt(100),
		}},
	}
	var sagaID uuid.UUID
	require.NoError(t, repository.NewTransactor(f.db).Do(context.Background(), func(tx *sqlx.Tx) error {
		if err := f.orders.Insert(context.Background(), tx, &o); err != nil {
			return err
		}
		res, err := f.l.orch.Start(context.Background(), tx, mapper.OrderPlaced(o))
		if err != nil {
			return err
		}
		sagaID = res.Saga.SagaID
		return nil
	}))
	return o, sagaID
}

func (f *orderFixture) status(t *testing.T, id uuid.UUID) model.OrderStatus {
	t.Helper()
	o, err := f.orders.Get(context.Background(), nil, id)
	require.NoError(t, err)
	return o.Status
}

func paymentResponse(sagaID uuid.UUID, o model.Order, status model.PaymentStatus, failures ...string) model.PaymentResponse {
	return model.PaymentResponse{
		ID: uuid.New(), SagaID: sagaID, PaymentID: uuid.New(),
		CustomerID: o.CustomerID, OrderID: o.ID, Price: o.Price,
		PaymentStatus: status, FailureMessages: failures,
	}
}

func approvalResponse(sagaID uuid.UUID, o model.Order, status model.ApprovalStatus, failures ...string) model.ApprovalResponse {
	return model.ApprovalResponse{
		ID: uuid.New(), SagaID: sagaID, OrderID: o.ID, RestaurantID: o.RestaurantID,
		OrderApprovalStatus: status, FailureMessages: failures,
	}
}

func TestSagaResponse_OrderFollowsSagaToApproval(t *testing.T) {
	f := newOrderFixture(t)
	o, sagaID := f.place(t)
	ctx := context.Background()

	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCompleted)))
	assert.Equal(t, model.OrderPaid, f.status(t, o.ID))

	require.NoError(t, f.l.OnApprovalResponse(ctx, approvalResponse(sagaID, o, model.ApprovalApproved)))
	assert.Equal(t, model.OrderApproved, f.status(t, o.ID))

	assert.Equal(t, []string{"PAYMENT_COMPLETED", "APPROVAL_REQUESTED", "APPROVED"}, f.audit.targets())
}

func TestSagaResponse_StaleResponseIsDiscarded(t *testing.T) {
	f := newOrderFixture(t)
	o, sagaID := f.place(t)
	ctx := context.Background()

	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCompleted)))
	require.NoError(t, f.l.OnApprovalResponse(ctx, approvalResponse(sagaID, o, model.ApprovalApproved)))

	// redelivered payment answer after approval
	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCompleted)))

	assert.Equal(t, model.OrderApproved, f.status(t, o.ID))
	assert.Equal(t, 1, f.logs.FilterMessage("response discarded").Len())
	assert.Len(t, f.audit.targets(), 3)
}

func TestSagaResponse_RejectionCancelsOrder(t *testing.T) {
	f := newOrderFixture(t)
	o, sagaID := f.place(t)
	ctx := context.Background()

	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCompleted)))
	require.NoError(t, f.l.OnApprovalResponse(ctx, approvalResponse(sagaID, o, model.ApprovalRejected, "restaurant closed")))

	assert.Equal(t, model.OrderCancelling, f.status(t, o.ID))

	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCancelled)))
	got, err := f.orders.Get(ctx, nil, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Equal(t, "restaurant closed", got.FailureMessages)
}

func TestSagaResponse_PaymentFailureCancelsOrder(t *testing.T) {
	f := newOrderFixture(t)
	o, sagaID := f.place(t)

	require.NoError(t, f.l.OnPaymentResponse(context.Background(),
		paymentResponse(sagaID, o, model.PaymentFailed, "not enough credit")))

	assert.Equal(t, model.OrderCancelled, f.status(t, o.ID))
	assert.Equal(t, []string{"COMPENSATING", "ROLLED_BACK"}, f.audit.targets())
}

func TestSagaResponse_PublishFailureDuringCompensation(t *testing.T) {
	f := newOrderFixture(t)
	o, sagaID := f.place(t)
	ctx := context.Background()

	require.NoError(t, f.l.OnPaymentResponse(ctx, paymentResponse(sagaID, o, model.PaymentCompleted)))
	require.NoError(t, f.l.OnApprovalResponse(ctx, approvalResponse(sagaID, o, model.ApprovalRejected)))

	f.l.OnPublishFailed(ctx, model.OutboxMessage{ID: uuid.New(), SagaID: sagaID, Type: model.OutboxTypePayment}, "broker unavailable")

	s, err := repository.NewSagaRepository(f.db).Get(ctx, nil, sagaID)
	require.NoError(t, err)
	assert.Equal(t, model.StepRolledBackFailed, s.CurrentStep)
	assert.Equal(t, model.OrderCancelling, f.status(t, o.ID))
}
