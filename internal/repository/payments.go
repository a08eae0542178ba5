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

type PaymentsRepository interface {
	// Insert yields model.ErrDuplicateRequest when the order already has a
	// payment.
	Insert(ctx context.Context, tx *sqlx.Tx, p *model.Payment) error
	// GetByOrderID returns the payment of an order or model.ErrNotFound.
	GetByOrderID(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (*model.Payment, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, p *model.Payment) error
}

type paymentsRepo struct{}

func NewPaymentsRepository() PaymentsRepository { return &paymentsRepo{} }

func (r *paymentsRepo) Insert(ctx context.Context, tx *sqlx.Tx, p *model.Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, order_id, price, status, failure_messages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CustomerID, p.OrderID, p.Price, p.Status, p.FailureMessages, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment of order %s", model.ErrDuplicateRequest, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *paymentsRepo) GetByOrderID(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	err := tx.GetContext(ctx, &p, `
		SELECT id, customer_id, order_id, price, status, failure_messages, created_at
		  FROM payments
		 WHERE order_id = ?
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment of order %s: %w", orderID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment of order %s: %w", orderID, err)
	}
	return &p, nil
}

func (r *paymentsRepo) UpdateStatus(ctx context.Context, tx *sqlx.Tx, p *model.Payment) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = ?, failure_messages = ? WHERE id = ?
	`, p.Status, p.FailureMessages, p.ID)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return nil
}
