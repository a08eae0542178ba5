package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/saga"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmehdipour/order-saga/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnknownCustomer = errors.New("unknown customer")
	ErrInvalidOrder    = errors.New("invalid order")
)

type Item struct {
	ProductID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
	SubTotal  decimal.Decimal
}

type PlaceOrder struct {
	CustomerID   uuid.UUID
	RestaurantID uuid.UUID
	Price        decimal.Decimal
	Items        []Item
}

// Service creates orders and starts their fulfillment saga.
type Service struct {
	uow       repository.UnitOfWork
	orders    repository.OrdersRepository
	customers repository.CustomersRepository
	sagas     repository.SagaRepository
	orch      *saga.Orchestrator
	audit     sagalog.Recorder
	history   sagalog.Reader
	log       *zap.Logger
}

func New(
	uow repository.UnitOfWork,
	orders repository.OrdersRepository,
	customers repository.CustomersRepository,
	sagas repository.SagaRepository,
	orch *saga.Orchestrator,
	audit sagalog.Recorder,
	history sagalog.Reader,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		uow:       uow,
		orders:    orders,
		customers: customers,
		sagas:     sagas,
		orch:      orch,
		audit:     audit,
		history:   history,
		log:       log.Named("order"),
	}
}

// Place validates the order, then writes the order, its saga and the first
// saga request in a single transaction.
func (s *Service) Place(ctx context.Context, cmd PlaceOrder) (*model.Order, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	now := model.Now()
	o := &model.Order{
		ID:           uuid.New(),
		CustomerID:   cmd.CustomerID,
		RestaurantID: cmd.RestaurantID,
		TrackingID:   util.NewTrackingID(now),
		Price:        cmd.Price,
		Status:       model.OrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, it := range cmd.Items {
		o.Items = append(o.Items, model.OrderItem{
			OrderID:   o.ID,
			ItemNo:    i + 1,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			SubTotal:  it.SubTotal,
		})
	}

	var res saga.Result
	err := s.uow.Do(ctx, func(tx *sqlx.Tx) error {
		ok, err := s.customers.Exists(ctx, tx, cmd.CustomerID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCustomer, cmd.CustomerID)
		}
		if err := s.orders.Insert(ctx, tx, o); err != nil {
			return err
		}
		res, err = s.orch.Start(ctx, tx, mapper.OrderPlaced(*o))
		return err
	})
	if err != nil {
		return nil, err
	}

	saga.RecordTransitions(ctx, s.audit, s.log, res)
	s.log.Info("order placed",
		zap.Stringer("order_id", o.ID),
		zap.String("tracking_id", o.TrackingID),
		zap.Stringer("saga_id", res.Saga.SagaID),
	)
	return o, nil
}

func (s *Service) Track(ctx context.Context, trackingID string) (*model.Order, error) {
	return s.orders.GetByTrackingID(ctx, trackingID)
}

// History returns the audited saga transitions of an order.
func (s *Service) History(ctx context.Context, trackingID string) ([]sagalog.Transition, error) {
	o, err := s.orders.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	sg, err := s.sagas.GetByOrderID(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return s.history.ListBySaga(ctx, sg.SagaID)
}

func validate(cmd PlaceOrder) error {
	if cmd.CustomerID == uuid.Nil || cmd.RestaurantID == uuid.Nil {
		return fmt.Errorf("%w: customer and restaurant are required", ErrInvalidOrder)
	}
	if !cmd.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidOrder)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}

	sum := decimal.Zero
	for i, it := range cmd.Items {
		if it.ProductID == uuid.Nil || it.Quantity <= 0 || !it.Price.IsPositive() {
			return fmt.Errorf("%w: item %d", ErrInvalidOrder, i+1)
		}
		if !it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).Equal(it.SubTotal) {
			return fmt.Errorf("%w: item %d sub total %s", ErrInvalidOrder, i+1, it.SubTotal)
		}
		sum = sum.Add(it.SubTotal)
	}
	if !sum.Equal(cmd.Price) {
		return fmt.Errorf("%w: total price %s is not equal to order items total %s", ErrInvalidOrder, cmd.Price, sum)
	}
	return nil
}
