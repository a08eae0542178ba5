// Package saga drives an order through its participants and undoes the
// completed work when one of them fails.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Result describes what one orchestrator call did to a saga.
type Result struct {
	Saga        *model.SagaInstance
	Transitions []sagalog.Transition
	// Compensated lists the steps asked to compensate, in call order.
	Compensated []string
}

// Step is the saga step after the call.
func (r Result) Step() model.SagaStep {
	if r.Saga == nil {
		return ""
	}
	return r.Saga.CurrentStep
}

func (r *Result) move(to model.SagaStep, reason string, now time.Time) {
	s := r.Saga
	r.Transitions = append(r.Transitions, sagalog.Transition{
		SagaID:   s.SagaID,
		SagaType: s.SagaType,
		From:     s.CurrentStep,
		To:       to,
		Reason:   reason,
		At:       now,
	})
	s.CurrentStep = to
	s.UpdatedAt = now
}

// Orchestrator walks the ordered steps of one saga type. Every call runs in
// the caller's transaction, so saga state and outbox rows commit together.
type Orchestrator struct {
	sagaType model.SagaType
	steps    []Step
	sagas    repository.SagaRepository
	outbox   repository.OutboxRepository
	log      *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(
	sagas repository.SagaRepository,
	outbox repository.OutboxRepository,
	log *zap.Logger,
	steps ...Step,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		sagaType: model.SagaOrderFulfillment,
		steps:    steps,
		sagas:    sagas,
		outbox:   outbox,
		log:      log.Named("saga"),
		now:      model.Now,
	}
}

// NewOrderOrchestrator wires the payment and restaurant approval steps.
func NewOrderOrchestrator(sagas repository.SagaRepository, outbox repository.OutboxRepository, log *zap.Logger) *Orchestrator {
	return NewOrchestrator(sagas, outbox, log, PaymentStep{}, RestaurantApprovalStep{})
}

// Start creates the saga of a placed order and queues the first request.
func (o *Orchestrator) Start(ctx context.Context, tx *sqlx.Tx, cmd model.OrderPlaced) (Result, error) {
	if len(o.steps) == 0 {
		return Result{}, errors.New("saga: no steps configured")
	}
	payload, err := mapper.Payload(cmd)
	if err != nil {
		return Result{}, err
	}

	now := o.now()
	s := &model.SagaInstance{
		SagaID:    uuid.New(),
		SagaType:  o.sagaType,
		OrderID:   cmd.OrderID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := Result{Saga: s}
	res.move(model.StepCreateOrder, "order placed", now)

	first := o.steps[0]
	req, err := first.BuildNextRequest(StepContext{Saga: s, Order: cmd, Now: now})
	if err != nil {
		return Result{}, fmt.Errorf("build %s request: %w", first.Name(), err)
	}
	if err := o.enqueue(ctx, tx, s, req, now); err != nil {
		return Result{}, err
	}
	res.move(first.Requested(), first.Name()+" requested", now)

	if err := o.sagas.Insert(ctx, tx, s); err != nil {
		return Result{}, err
	}

	o.log.Info("saga started",
		zap.Stringer("saga_id", s.SagaID),
		zap.Stringer("order_id", s.OrderID),
		zap.Stringer("step", s.CurrentStep),
	)
	return res, nil
}

// Handle applies a participant response. A response that does not fit the
// saga's current step yields model.ErrSagaStepMismatch and changes nothing.
func (o *Orchestrator) Handle(ctx context.Context, tx *sqlx.Tx, resp Response) (Result, error) {
	s, err := o.load(ctx, tx, resp.SagaID)
	if err != nil {
		return Result{}, err
	}

	idx := o.indexOf(resp.Step)
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: unknown step %q", model.ErrSagaStepMismatch, resp.Step)
	}
	step := o.steps[idx]

	var order model.OrderPlaced
	if err := json.Unmarshal(s.Payload, &order); err != nil {
		return Result{}, fmt.Errorf("saga %s payload: %w", s.SagaID, err)
	}

	now := o.now()
	res := Result{Saga: s}
	sc := StepContext{Saga: s, Order: order, Prior: &resp, Now: now}

	switch {
	case s.CurrentStep == step.Requested() && step.IsSuccess(resp):
		err = o.advance(ctx, tx, &res, idx, sc)
	case s.CurrentStep == step.Requested():
		err = o.compensate(ctx, tx, &res, idx, sc)
	case s.CurrentStep == model.StepCompensating && s.IsPending(step.Name()):
		err = o.acknowledge(&res, step, resp, now)
	default:
		return Result{}, fmt.Errorf("%w: saga %s is %s, got %s %s",
			model.ErrSagaStepMismatch, s.SagaID, s.CurrentStep, resp.Step, resp.Status)
	}
	if err != nil {
		return Result{}, err
	}

	if err := o.sagas.Update(ctx, tx, s); err != nil {
		return Result{}, err
	}
	o.log.Info("saga progressed",
		zap.Stringer("saga_id", s.SagaID),
		zap.String("response", resp.Step+"/"+resp.Status),
		zap.Stringer("step", s.CurrentStep),
	)
	return res, nil
}

// FailCompensation ends a compensating saga whose compensation request
// could not be delivered.
func (o *Orchestrator) FailCompensation(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID, reason string) (Result, error) {
	s, err := o.load(ctx, tx, sagaID)
	if err != nil {
		return Result{}, err
	}
	if s.CurrentStep != model.StepCompensating {
		return Result{}, fmt.Errorf("%w: saga %s is %s", model.ErrSagaStepMismatch, s.SagaID, s.CurrentStep)
	}

	res := Result{Saga: s}
	s.AddFailures([]string{reason})
	res.move(model.StepRolledBackFailed, reason, o.now())
	if err := o.sagas.Update(ctx, tx, s); err != nil {
		return Result{}, err
	}
	o.log.Error("saga compensation failed", zap.Stringer("saga_id", s.SagaID), zap.String("reason", reason))
	return res, nil
}

func (o *Orchestrator) load(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID) (*model.SagaInstance, error) {
	s, err := o.sagas.Get(ctx, tx, sagaID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown saga %s", model.ErrSagaStepMismatch, sagaID)
	}
	if err != nil {
		return nil, err
	}
	if s.SagaType != o.sagaType {
		return nil, fmt.Errorf("%w: saga %s is of type %s", model.ErrSagaStepMismatch, sagaID, s.SagaType)
	}
	if s.CurrentStep.Terminal() {
		return nil, fmt.Errorf("%w: saga %s already %s", model.ErrSagaStepMismatch, sagaID, s.CurrentStep)
	}
	return s, nil
}

func (o *Orchestrator) advance(ctx context.Context, tx *sqlx.Tx, res *Result, idx int, sc StepContext) error {
	step := o.steps[idx]
	res.move(step.Completed(), step.Name()+" succeeded", sc.Now)
	if idx+1 == len(o.steps) {
		return nil
	}

	next := o.steps[idx+1]
	req, err := next.BuildNextRequest(sc)
	if err != nil {
		return fmt.Errorf("build %s request: %w", next.Name(), err)
	}
	if err := o.enqueue(ctx, tx, res.Saga, req, sc.Now); err != nil {
		return err
	}
	res.move(next.Requested(), next.Name()+" requested", sc.Now)
	return nil
}

// compensate asks the failed step and every step before it, last first, to
// undo their work. Steps returning no compensation are done already.
func (o *Orchestrator) compensate(ctx context.Context, tx *sqlx.Tx, res *Result, idx int, sc StepContext) error {
	s := res.Saga
	s.AddFailures(sc.Prior.FailureMessages)
	res.move(model.StepCompensating, failureReason(*sc.Prior), sc.Now)

	var pending []string
	for i := idx; i >= 0; i-- {
		st := o.steps[i]
		res.Compensated = append(res.Compensated, st.Name())
		req, err := st.BuildCompensation(sc)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrCompensation, st.Name(), err)
		}
		if req == nil {
			continue
		}
		if err := o.enqueue(ctx, tx, s, req, sc.Now); err != nil {
			return err
		}
		pending = append(pending, st.Name())
	}
	s.SetPending(pending)

	if len(pending) == 0 {
		res.move(model.StepRolledBack, "nothing to compensate", sc.Now)
	}
	return nil
}

func (o *Orchestrator) acknowledge(res *Result, step Step, resp Response, now time.Time) error {
	s := res.Saga
	switch step.CompensationOutcome(resp) {
	case OutcomeCompensated:
		s.Acknowledge(step.Name())
		if len(s.Pending()) == 0 {
			res.move(model.StepRolledBack, step.Name()+" compensated", now)
		}
		return nil
	case OutcomeCompensationFailed:
		s.AddFailures(resp.FailureMessages)
		res.move(model.StepRolledBackFailed, step.Name()+" compensation failed", now)
		o.log.Error("saga compensation failed",
			zap.Stringer("saga_id", s.SagaID),
			zap.String("step", step.Name()),
			zap.Strings("failures", resp.FailureMessages),
		)
		return nil
	default:
		return fmt.Errorf("%w: saga %s compensating, got %s %s",
			model.ErrSagaStepMismatch, s.SagaID, resp.Step, resp.Status)
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, tx *sqlx.Tx, s *model.SagaInstance, req *Request, now time.Time) error {
	payload, err := mapper.Payload(req.Payload)
	if err != nil {
		return err
	}
	return o.outbox.Save(ctx, tx, model.NewOutboxMessage(s.SagaID, req.Type, req.EventStatus, payload, now))
}

func (o *Orchestrator) indexOf(name string) int {
	for i, st := range o.steps {
		if st.Name() == name {
			return i
		}
	}
	return -1
}

func failureReason(resp Response) string {
	reason := resp.Step + " " + resp.Status
	if len(resp.FailureMessages) > 0 {
		reason += ": " + strings.Join(resp.FailureMessages, "; ")
	}
	return reason
}
