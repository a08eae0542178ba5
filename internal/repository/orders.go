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

// OrdersRepository persists the order aggregate and its items.
type OrdersRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, o *model.Order) error
	Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Order, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, o *model.Order) error
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

const orderColumns = `id, customer_id, restaurant_id, tracking_id, price, status, failure_messages, created_at, updated_at`

// Insert writes the order row and its items.
func (r *OrdersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, o *model.Order) error {
	const qOrder = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	const qItem = `
		INSERT INTO order_items (order_id, item_no, product_id, quantity, price, sub_total)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, qOrder,
			o.ID, o.CustomerID, o.RestaurantID, o.TrackingID, o.Price, o.Status, o.FailureMessages, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		for _, it := range o.Items {
			if _, err := tx.ExecContext(ctx, qItem,
				o.ID, it.ItemNo, it.ProductID, it.Quantity, it.Price, it.SubTotal,
			); err != nil {
				return fmt.Errorf("insert order item %d of %s: %w", it.ItemNo, o.ID, err)
			}
		}
		return nil
	})
}

func (r *OrdersRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) GetByTrackingID(ctx context.Context, trackingID string) (*model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE tracking_id = ?`, trackingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", trackingID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", trackingID, err)
	}

	if err := r.db.SelectContext(ctx, &o.Items, `
		SELECT order_id, item_no, product_id, quantity, price, sub_total
		  FROM order_items
		 WHERE order_id = ?
		 ORDER BY item_no
	`, o.ID); err != nil {
		return nil, fmt.Errorf("select items of %s: %w", o.ID, err)
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, o *model.Order) error {
	const q = `UPDATE orders SET status = ?, failure_messages = ?, updated_at = ? WHERE id = ?`
	o.UpdatedAt = model.Now()
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, o.Status, o.FailureMessages, o.UpdatedAt, o.ID)
		if err != nil {
			return fmt.Errorf("update order %s: %w", o.ID, err)
		}
		return nil
	})
}
