package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreditHistoryRepository is the append-only ledger of credit movements.
type CreditHistoryRepository interface {
	InsertDebit(ctx context.Context, tx *sqlx.Tx, customerID, paymentID uuid.UUID, amount decimal.Decimal) error
	InsertRefund(ctx context.Context, tx *sqlx.Tx, customerID, paymentID uuid.UUID, amount decimal.Decimal) error
	// Sum returns credit minus debit movements of a customer.
	Sum(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID) (decimal.Decimal, error)
}

type creditHistoryRepo struct{}

func NewCreditHistoryRepository() CreditHistoryRepository { return &creditHistoryRepo{} }

func (r *creditHistoryRepo) InsertDebit(ctx context.Context, tx *sqlx.Tx, customerID, paymentID uuid.UUID, amount decimal.Decimal) error {
	return r.insert(ctx, tx, model.CreditDebit, customerID, paymentID, amount)
}

func (r *creditHistoryRepo) InsertRefund(ctx context.Context, tx *sqlx.Tx, customerID, paymentID uuid.UUID, amount decimal.Decimal) error {
	return r.insert(ctx, tx, model.CreditCredit, customerID, paymentID, amount)
}

// insert keys the row by op and payment so one payment moves credit at most
// once per direction.
func (r *creditHistoryRepo) insert(ctx context.Context, tx *sqlx.Tx, op model.CreditOp, customerID, paymentID uuid.UUID, amount decimal.Decimal) error {
	idem := fmt.Sprintf("%s-%s", op, paymentID)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_history (id, customer_id, op, amount, payment_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New(), customerID, op, amount, paymentID, idem, model.Now())
	if err != nil {
		return fmt.Errorf("insert credit history %s: %w", idem, err)
	}
	return nil
}

func (r *creditHistoryRepo) Sum(ctx context.Context, tx *sqlx.Tx, customerID uuid.UUID) (decimal.Decimal, error) {
	var rows []struct {
		Op     model.CreditOp  `db:"op"`
		Amount decimal.Decimal `db:"amount"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT op, amount FROM credit_history WHERE customer_id = ?
	`, customerID); err != nil {
		return decimal.Zero, fmt.Errorf("select credit history of %s: %w", customerID, err)
	}
	sum := decimal.Zero
	for _, rw := range rows {
		if rw.Op == model.CreditDebit {
			sum = sum.Sub(rw.Amount)
		} else {
			sum = sum.Add(rw.Amount)
		}
	}
	return sum, nil
}
