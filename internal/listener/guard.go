// Package listener holds the per-service message listeners. Each one applies
// a business mutation and writes one outbox row in a single transaction.
package listener

import (
	"context"
	"errors"

	"github.com/jmehdipour/order-saga/internal/metrics"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// errAlreadyProcessed short-circuits a delivery whose outcome is already
// published.
var errAlreadyProcessed = errors.New("already processed")

type guard struct {
	name string
	uow  repository.UnitOfWork
	log  *zap.Logger
}

func newGuard(name string, uow repository.UnitOfWork, log *zap.Logger) guard {
	if log == nil {
		log = zap.NewNop()
	}
	return guard{name: name, uow: uow, log: log.Named(name)}
}

// runOnce runs fn in one unit of work. Outcomes that only mean the delivery
// was seen before are logged and reported as success so the transport
// acknowledges the message.
func (g guard) runOnce(ctx context.Context, fields []zap.Field, fn func(tx *sqlx.Tx) error) error {
	err := g.uow.Do(ctx, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errAlreadyProcessed):
		g.log.Info("message already processed", fields...)
		return nil
	case errors.Is(err, model.ErrDuplicateOutboxEntry), errors.Is(err, model.ErrDuplicateRequest):
		metrics.ListenerDuplicatesTotal.WithLabelValues(g.name).Inc()
		g.log.Warn("duplicate message dropped", append(fields, zap.Error(err))...)
		return nil
	case errors.Is(err, model.ErrSagaStepMismatch):
		metrics.ResponsesDiscardedTotal.WithLabelValues(g.name).Inc()
		g.log.Info("response discarded", append(fields, zap.Error(err))...)
		return nil
	default:
		return err
	}
}
