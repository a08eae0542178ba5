package saga

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/dbtest"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	db     *sqlx.DB
	uow    *repository.Transactor
	sagas  *repository.SagaRepositoryImpl
	outbox *repository.OutboxRepositoryImpl
	orch   *Orchestrator
}

func newFixture(t *testing.T, steps ...Step) *fixture {
	t.Helper()
	db := dbtest.Open(t, dbtest.Order)
	f := &fixture{
		db:     db,
		uow:    repository.NewTransactor(db),
		sagas:  repository.NewSagaRepository(db),
		outbox: repository.NewOutboxRepository(db),
	}
	if len(steps) == 0 {
		steps = []Step{PaymentStep{}, RestaurantApprovalStep{}}
	}
	f.orch = NewOrchestrator(f.sagas, f.outbox, zaptest.NewLogger(t), steps...)
	return f
}

func (f *fixture) start(t *testing.T) Result {
	t.Helper()
	cmd := model.OrderPlaced{
		OrderID:      uuid.New(),
		CustomerID:   uuid.New(),
		RestaurantID: uuid.New(),
		Price:        decimal.NewFromInt(100),
		Products:     []model.ProductLine{{ID: uuid.New(), Quantity: 2}},
		CreatedAt:    model.Now(),
	}
	var res Result
	require.NoError(t, f.uow.Do(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		res, err = f.orch.Start(context.Background(), tx, cmd)
		return err
	}))
	return res
}

func (f *fixture) handle(t *testing.T, resp Response) (Result, error) {
	t.Helper()
	var res Result
	err := f.uow.Do(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		res, err = f.orch.Handle(context.Background(), tx, resp)
		return err
	})
	return res, err
}

func (f *fixture) pending(t *testing.T, typ string) []model.OutboxMessage {
	t.Helper()
	rows, err := f.outbox.FindPendingByType(context.Background(), typ, 10)
	require.NoError(t, err)
	return rows
}

func visited(rs ...Result) []string {
	var out []string
	for _, r := range rs {
		for _, tr := range r.Transitions {
			out = append(out, string(tr.To))
		}
	}
	return out
}

func TestOrchestrator_HappyPathVisitsStepsInOrder(t *testing.T) {
	f := newFixture(t)
	started := f.start(t)
	id := started.Saga.SagaID

	assert.Equal(t, model.SagaStep(""), started.Transitions[0].From)
	assert.Equal(t, model.StepPaymentRequested, started.Step())

	payments := f.pending(t, model.OutboxTypePayment)
	require.Len(t, payments, 1)
	assert.Equal(t, string(model.PaymentOrderPending), payments[0].EventStatus)
	assert.Equal(t, id, payments[0].SagaID)

	paid, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, model.StepApprovalRequested, paid.Step())

	approvals := f.pending(t, model.OutboxTypeApproval)
	require.Len(t, approvals, 1)
	assert.Equal(t, string(model.RestaurantOrderPaid), approvals[0].EventStatus)

	approved, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypeApproval, Status: "APPROVED"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CREATE_ORDER", "PAYMENT_REQUESTED", "PAYMENT_COMPLETED", "APPROVAL_REQUESTED", "APPROVED",
	}, visited(started, paid, approved))

	s, err := f.sagas.Get(context.Background(), nil, id)
	require.NoError(t, err)
	assert.Equal(t, model.StepApproved, s.CurrentStep)
	assert.EqualValues(t, 2, s.Version)
}

func TestOrchestrator_PaymentFailureRollsBackWithoutCancel(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID

	res, err := f.handle(t, Response{
		SagaID: id, Step: model.OutboxTypePayment, Status: "FAILED",
		FailureMessages: []string{"insufficient credit"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepRolledBack, res.Step())
	assert.Equal(t, []string{"COMPENSATING", "ROLLED_BACK"}, visited(res))
	assert.Equal(t, "insufficient credit", res.Saga.FailureMessages)

	// only the original PENDING request, no CANCELLED
	assert.Len(t, f.pending(t, model.OutboxTypePayment), 1)
}

func TestOrchestrator_RejectionCancelsPayment(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID
	_, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"})
	require.NoError(t, err)

	rejected, err := f.handle(t, Response{
		SagaID: id, Step: model.OutboxTypeApproval, Status: "REJECTED",
		FailureMessages: []string{"restaurant closed"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepCompensating, rejected.Step())
	assert.Equal(t, []string{model.OutboxTypeApproval, model.OutboxTypePayment}, rejected.Compensated)
	assert.Equal(t, []string{model.OutboxTypePayment}, rejected.Saga.Pending())

	var cancel *model.OutboxMessage
	for _, m := range f.pending(t, model.OutboxTypePayment) {
		if m.EventStatus == string(model.PaymentOrderCancelled) {
			cancel = &m
		}
	}
	require.NotNil(t, cancel)

	done, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, model.StepRolledBack, done.Step())
	assert.Empty(t, done.Saga.Pending())
}

func TestOrchestrator_FailedRefundEndsRolledBackFailed(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID
	_, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"})
	require.NoError(t, err)
	_, err = f.handle(t, Response{SagaID: id, Step: model.OutboxTypeApproval, Status: "REJECTED"})
	require.NoError(t, err)

	res, err := f.handle(t, Response{
		SagaID: id, Step: model.OutboxTypePayment, Status: "FAILED",
		FailureMessages: []string{"payment not found"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepRolledBackFailed, res.Step())
}

func TestOrchestrator_DiscardsResponsesForFinishedSagas(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID
	_, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"})
	require.NoError(t, err)
	_, err = f.handle(t, Response{SagaID: id, Step: model.OutboxTypeApproval, Status: "APPROVED"})
	require.NoError(t, err)

	for _, resp := range []Response{
		{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"},
		{SagaID: id, Step: model.OutboxTypeApproval, Status: "REJECTED"},
		{SagaID: id, Step: model.OutboxTypePayment, Status: "CANCELLED"},
	} {
		_, err := f.handle(t, resp)
		assert.ErrorIs(t, err, model.ErrSagaStepMismatch, resp.Step+" "+resp.Status)
	}

	s, err := f.sagas.Get(context.Background(), nil, id)
	require.NoError(t, err)
	assert.Equal(t, model.StepApproved, s.CurrentStep)
	assert.EqualValues(t, 2, s.Version)
}

func TestOrchestrator_DiscardsOutOfOrderResponses(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID

	// approval answer while payment is still in flight
	_, err := f.handle(t, Response{SagaID: id, Step: model.OutboxTypeApproval, Status: "APPROVED"})
	assert.ErrorIs(t, err, model.ErrSagaStepMismatch)

	_, err = f.handle(t, Response{SagaID: uuid.New(), Step: model.OutboxTypePayment, Status: "COMPLETED"})
	assert.ErrorIs(t, err, model.ErrSagaStepMismatch)

	_, err = f.handle(t, Response{SagaID: id, Step: "SHIPPING", Status: "DONE"})
	assert.ErrorIs(t, err, model.ErrSagaStepMismatch)

	s, err := f.sagas.Get(context.Background(), nil, id)
	require.NoError(t, err)
	assert.Equal(t, model.StepPaymentRequested, s.CurrentStep)
}

func TestOrchestrator_FailCompensation(t *testing.T) {
	f := newFixture(t)
	id := f.start(t).Saga.SagaID

	err := f.uow.Do(context.Background(), func(tx *sqlx.Tx) error {
		_, err := f.orch.FailCompensation(context.Background(), tx, id, "publish failed")
		return err
	})
	assert.ErrorIs(t, err, model.ErrSagaStepMismatch, "saga is not compensating")

	_, err = f.handle(t, Response{SagaID: id, Step: model.OutboxTypePayment, Status: "COMPLETED"})
	require.NoError(t, err)
	_, err = f.handle(t, Response{SagaID: id, Step: model.OutboxTypeApproval, Status: "REJECTED"})
	require.NoError(t, err)

	var res Result
	require.NoError(t, f.uow.Do(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		res, err = f.orch.FailCompensation(context.Background(), tx, id, "publish failed")
		return err
	}))
	assert.Equal(t, model.StepRolledBackFailed, res.Step())
	assert.Contains(t, res.Saga.FailureMessages, "publish failed")
}

// recordingStep compensates by appending its name to a shared log.
type recordingStep struct {
	name      string
	requested model.SagaStep
	completed model.SagaStep
	undo      bool
	calls     *[]string
}

func (s recordingStep) Name() string              { return s.name }
func (s recordingStep) Requested() model.SagaStep { return s.requested }
func (s recordingStep) Completed() model.SagaStep { return s.completed }

func (s recordingStep) BuildNextRequest(StepContext) (*Request, error) {
	return &Request{Type: s.name, EventStatus: "DO", Payload: map[string]string{"step": s.name}}, nil
}

func (s recordingStep) BuildCompensation(StepContext) (*Request, error) {
	*s.calls = append(*s.calls, s.name)
	if !s.undo {
		return nil, nil
	}
	return &Request{Type: s.name, EventStatus: "UNDO", Payload: map[string]string{"step": s.name}}, nil
}

func (s recordingStep) IsSuccess(r Response) bool { return r.Status == "OK" }

func (s recordingStep) CompensationOutcome(r Response) Outcome {
	if r.Status == "UNDONE" {
		return OutcomeCompensated
	}
	return OutcomeNone
}

func TestOrchestrator_CompensatesInReverseOrder(t *testing.T) {
	var calls []string
	a := recordingStep{name: "A", requested: model.StepPaymentRequested, completed: model.StepPaymentCompleted, undo: true, calls: &calls}
	b := recordingStep{name: "B", requested: model.StepApprovalRequested, completed: model.StepApproved, undo: true, calls: &calls}
	f := newFixture(t, a, b)

	id := f.start(t).Saga.SagaID
	_, err := f.handle(t, Response{SagaID: id, Step: "A", Status: "OK"})
	require.NoError(t, err)

	res, err := f.handle(t, Response{SagaID: id, Step: "B", Status: "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, calls)
	assert.Equal(t, []string{"B", "A"}, res.Saga.Pending())
	assert.Equal(t, model.StepCompensating, res.Step())

	res, err = f.handle(t, Response{SagaID: id, Step: "A", Status: "UNDONE"})
	require.NoError(t, err)
	assert.Equal(t, model.StepCompensating, res.Step())

	res, err = f.handle(t, Response{SagaID: id, Step: "B", Status: "UNDONE"})
	require.NoError(t, err)
	assert.Equal(t, model.StepRolledBack, res.Step())

	_, err = f.handle(t, Response{SagaID: id, Step: "A", Status: "UNDONE"})
	assert.ErrorIs(t, err, model.ErrSagaStepMismatch)
}
