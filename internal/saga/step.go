package saga

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
)

// Request is an outbound command a step wants published through the outbox.
type Request struct {
	Type        string // outbox type, routed to a topic by the publisher
	EventStatus string
	Payload     any
}

// Response is the outcome of a step as reported by a participant service.
type Response struct {
	SagaID          uuid.UUID
	Step            string // Name of the answering step
	Status          string
	FailureMessages []string
}

// StepContext is everything a step may read. Steps keep no state.
type StepContext struct {
	Saga  *model.SagaInstance
	Order model.OrderPlaced
	Prior *Response // nil when the saga starts
	Now   time.Time
}

// Outcome classifies a response received while compensating.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompensated
	OutcomeCompensationFailed
)

// Step is one participant of a saga.
type Step interface {
	Name() string
	// Requested is the saga step while the request is in flight.
	Requested() model.SagaStep
	// Completed is the saga step once the participant succeeded.
	Completed() model.SagaStep
	BuildNextRequest(sc StepContext) (*Request, error)
	// BuildCompensation returns nil when there is nothing to undo.
	BuildCompensation(sc StepContext) (*Request, error)
	IsSuccess(resp Response) bool
	CompensationOutcome(resp Response) Outcome
}

// PaymentStep charges the customer and refunds on compensation.
type PaymentStep struct{}

var _ Step = PaymentStep{}

func (PaymentStep) Name() string              { return model.OutboxTypePayment }
func (PaymentStep) Requested() model.SagaStep { return model.StepPaymentRequested }
func (PaymentStep) Completed() model.SagaStep { return model.StepPaymentCompleted }

func (s PaymentStep) BuildNextRequest(sc StepContext) (*Request, error) {
	return s.request(sc, model.PaymentOrderPending), nil
}

// BuildCompensation cancels the payment unless the payment itself failed.
func (s PaymentStep) BuildCompensation(sc StepContext) (*Request, error) {
	if sc.Prior != nil && sc.Prior.Step == s.Name() {
		return nil, nil
	}
	return s.request(sc, model.PaymentOrderCancelled), nil
}

func (PaymentStep) IsSuccess(resp Response) bool {
	return resp.Status == string(model.PaymentCompleted)
}

func (PaymentStep) CompensationOutcome(resp Response) Outcome {
	switch model.PaymentStatus(resp.Status) {
	case model.PaymentCancelled:
		return OutcomeCompensated
	case model.PaymentFailed:
		return OutcomeCompensationFailed
	default:
		return OutcomeNone
	}
}

func (s PaymentStep) request(sc StepContext, status model.PaymentOrderStatus) *Request {
	return &Request{
		Type:        s.Name(),
		EventStatus: string(status),
		Payload: model.PaymentRequestPayload{
			OrderID:            sc.Order.OrderID,
			CustomerID:         sc.Order.CustomerID,
			Price:              sc.Order.Price,
			PaymentOrderStatus: status,
			CreatedAt:          sc.Now,
		},
	}
}

// RestaurantApprovalStep asks the restaurant to accept the paid order.
// A rejection leaves nothing to undo at the restaurant.
type RestaurantApprovalStep struct{}

var _ Step = RestaurantApprovalStep{}

func (RestaurantApprovalStep) Name() string              { return model.OutboxTypeApproval }
func (RestaurantApprovalStep) Requested() model.SagaStep { return model.StepApprovalRequested }
func (RestaurantApprovalStep) Completed() model.SagaStep { return model.StepApproved }

func (s RestaurantApprovalStep) BuildNextRequest(sc StepContext) (*Request, error) {
	return &Request{
		Type:        s.Name(),
		EventStatus: string(model.RestaurantOrderPaid),
		Payload: model.ApprovalRequestPayload{
			OrderID:               sc.Order.OrderID,
			RestaurantID:          sc.Order.RestaurantID,
			Products:              sc.Order.Products,
			Price:                 sc.Order.Price,
			RestaurantOrderStatus: model.RestaurantOrderPaid,
			CreatedAt:             sc.Now,
		},
	}, nil
}

func (RestaurantApprovalStep) BuildCompensation(StepContext) (*Request, error) { return nil, nil }

func (RestaurantApprovalStep) IsSuccess(resp Response) bool {
	return resp.Status == string(model.ApprovalApproved)
}

func (RestaurantApprovalStep) CompensationOutcome(Response) Outcome { return OutcomeNone }

// PaymentResponse adapts a payment response for the orchestrator.
func PaymentResponse(r model.PaymentResponse) Response {
	return Response{
		SagaID:          r.SagaID,
		Step:            model.OutboxTypePayment,
		Status:          string(r.PaymentStatus),
		FailureMessages: r.FailureMessages,
	}
}

// ApprovalResponse adapts a restaurant approval response for the orchestrator.
func ApprovalResponse(r model.ApprovalResponse) Response {
	return Response{
		SagaID:          r.SagaID,
		Step:            model.OutboxTypeApproval,
		Status:          string(r.OrderApprovalStatus),
		FailureMessages: r.FailureMessages,
	}
}
