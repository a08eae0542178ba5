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

type RestaurantsRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Restaurant, error)
	Save(ctx context.Context, tx *sqlx.Tx, r model.Restaurant) error
}

type ApprovalsRepository interface {
	// Insert yields model.ErrDuplicateRequest when the order was already
	// answered.
	Insert(ctx context.Context, tx *sqlx.Tx, a *model.OrderApproval) error
}

type restaurantsRepo struct{}

func NewRestaurantsRepository() RestaurantsRepository { return &restaurantsRepo{} }

func (r *restaurantsRepo) Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Restaurant, error) {
	var rest model.Restaurant
	err := tx.GetContext(ctx, &rest, `SELECT id, name, active, created_at FROM restaurants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("restaurant %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get restaurant %s: %w", id, err)
	}
	return &rest, nil
}

// Save inserts the restaurant or refreshes its name and active flag.
func (r *restaurantsRepo) Save(ctx context.Context, tx *sqlx.Tx, rest model.Restaurant) error {
	_, err := r.Get(ctx, tx, rest.ID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE restaurants SET name = ?, active = ? WHERE id = ?`,
			rest.Name, rest.Active, rest.ID); err != nil {
			return fmt.Errorf("update restaurant %s: %w", rest.ID, err)
		}
		return nil
	case !errors.Is(err, model.ErrNotFound):
		return err
	}

	if rest.CreatedAt.IsZero() {
		rest.CreatedAt = model.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO restaurants (id, name, active, created_at) VALUES (?, ?, ?, ?)
	`, rest.ID, rest.Name, rest.Active, rest.CreatedAt); err != nil {
		return fmt.Errorf("insert restaurant %s: %w", rest.ID, err)
	}
	return nil
}

type approvalsRepo struct{}

func NewApprovalsRepository() ApprovalsRepository { return &approvalsRepo{} }

func (r *approvalsRepo) Insert(ctx context.Context, tx *sqlx.Tx, a *model.OrderApproval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_approvals (id, restaurant_id, order_id, status, failure_messages, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.RestaurantID, a.OrderID, a.Status, a.FailureMessages, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: approval of order %s", model.ErrDuplicateRequest, a.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert approval %s: %w", a.ID, err)
	}
	return nil
}
