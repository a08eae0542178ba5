package listener

import (
	"context"

	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/repository"
	"go.uber.org/zap"
)

// CustomerListener keeps the order service's customer replica.
type CustomerListener struct {
	customers repository.CustomersRepository
	log       *zap.Logger
}

func NewCustomerListener(customers repository.CustomersRepository, log *zap.Logger) *CustomerListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &CustomerListener{customers: customers, log: log.Named("customer")}
}

func (l *CustomerListener) Handle(ctx context.Context, value []byte) error {
	c, err := mapper.CustomerFromMessage(value)
	if err != nil {
		return err
	}
	created, err := l.customers.Save(ctx, c)
	if err != nil {
		return err
	}
	if !created {
		l.log.Info("customer already known", zap.Stringer("customer_id", c.ID))
		return nil
	}
	l.log.Info("customer created", zap.Stringer("customer_id", c.ID))
	return nil
}
