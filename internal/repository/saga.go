package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// SagaRepository persists saga instances of the order service.
type SagaRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, s *model.SagaInstance) error
	// Get returns model.ErrNotFound for an unknown saga.
	Get(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID) (*model.SagaInstance, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.SagaInstance, error)
	// Update writes s if its version is unchanged and bumps s.Version.
	// A concurrent update yields model.ErrSagaStepMismatch.
	Update(ctx context.Context, tx *sqlx.Tx, s *model.SagaInstance) error
}

type SagaRepositoryImpl struct {
	db *sqlx.DB
}

func NewSagaRepository(db *sqlx.DB) *SagaRepositoryImpl {
	return &SagaRepositoryImpl{db: db}
}

var _ SagaRepository = (*SagaRepositoryImpl)(nil)

const sagaColumns = `saga_id, saga_type, order_id, current_step, pending_compensations, payload,
		       failure_messages, version, created_at, updated_at`

func (r *SagaRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s *model.SagaInstance) error {
	const q = `
		INSERT INTO saga_instances
		    (saga_id, saga_type, order_id, current_step, pending_compensations, payload,
		     failure_messages, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			s.SagaID, s.SagaType, s.OrderID, s.CurrentStep, s.PendingCompensations, s.Payload,
			s.FailureMessages, s.Version, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert saga %s: %w", s.SagaID, err)
		}
		return nil
	})
}

func (r *SagaRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID) (*model.SagaInstance, error) {
	var s model.SagaInstance
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &s, `SELECT `+sagaColumns+` FROM saga_instances WHERE saga_id = ?`, sagaID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saga %s: %w", sagaID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	return &s, nil
}

func (r *SagaRepositoryImpl) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.SagaInstance, error) {
	var s model.SagaInstance
	err := r.db.GetContext(ctx, &s, `SELECT `+sagaColumns+` FROM saga_instances WHERE order_id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saga of order %s: %w", orderID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga of order %s: %w", orderID, err)
	}
	return &s, nil
}

func (r *SagaRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, s *model.SagaInstance) error {
	const q = `
		UPDATE saga_instances
		   SET current_step = ?, pending_compensations = ?, failure_messages = ?,
		       version = version + 1, updated_at = ?
		 WHERE saga_id = ? AND version = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			s.CurrentStep, s.PendingCompensations, s.FailureMessages, s.UpdatedAt, s.SagaID, s.Version,
		)
		if err != nil {
			return fmt.Errorf("update saga %s: %w", s.SagaID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update saga %s: %w", s.SagaID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: saga %s changed concurrently", model.ErrSagaStepMismatch, s.SagaID)
		}
		s.Version++
		return nil
	})
}
