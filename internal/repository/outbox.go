package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository persists the per-service outbox table.
type OutboxRepository interface {
	// Save inserts a STARTED row. A STARTED row for the same saga, type and
	// event status yields model.ErrDuplicateOutboxEntry.
	Save(ctx context.Context, tx *sqlx.Tx, m *model.OutboxMessage) error
	// FindPendingByType returns STARTED rows of one type, oldest first.
	FindPendingByType(ctx context.Context, outboxType string, limit int) ([]model.OutboxMessage, error)
	// ExistsProcessed reports whether a COMPLETED row carries one of the
	// given event statuses for the saga.
	ExistsProcessed(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID, outboxType string, eventStatuses ...string) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, expectedVersion int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, expectedVersion int64, reason string) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Save(ctx context.Context, tx *sqlx.Tx, m *model.OutboxMessage) error {
	const q = `
		INSERT INTO outbox
		    (id, saga_id, type, event_status, payload, outbox_status, version, created_at)
		VALUES
		    (?,  ?,       ?,    ?,            ?,       ?,             ?,       ?)
	`
	if m.CreatedAt.IsZero() {
		m.CreatedAt = model.Now()
	}
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.SagaID, m.Type, m.EventStatus, m.Payload, model.OutboxStarted, m.Version, m.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: saga %s type %s status %s", model.ErrDuplicateOutboxEntry, m.SagaID, m.Type, m.EventStatus)
		}
		return fmt.Errorf("insert outbox: %w", err)
	}
	m.OutboxStatus = model.OutboxStarted
	return nil
}

func (r *OutboxRepositoryImpl) FindPendingByType(ctx context.Context, outboxType string, limit int) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, saga_id, type, event_status, payload, outbox_status, failure_reason,
		       version, created_at, processed_at
		  FROM outbox
		 WHERE type = ? AND outbox_status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
	`
	var rows []model.OutboxMessage
	if err := r.db.SelectContext(ctx, &rows, q, outboxType, model.OutboxStarted, limit); err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) ExistsProcessed(ctx context.Context, tx *sqlx.Tx, sagaID uuid.UUID, outboxType string, eventStatuses ...string) (bool, error) {
	if len(eventStatuses) == 0 {
		return false, nil
	}
	q, args, err := sqlx.In(`
		SELECT COUNT(*)
		  FROM outbox
		 WHERE saga_id = ? AND type = ? AND outbox_status = ? AND event_status IN (?)
	`, sagaID, outboxType, model.OutboxCompleted, eventStatuses)
	if err != nil {
		return false, err
	}

	var n int
	err = withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, tx.Rebind(q), args...)
	})
	if err != nil {
		return false, fmt.Errorf("count processed outbox: %w", err)
	}
	return n > 0, nil
}

func (r *OutboxRepositoryImpl) MarkCompleted(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	return r.transition(ctx, id, expectedVersion, model.OutboxCompleted, nil)
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, expectedVersion int64, reason string) error {
	return r.transition(ctx, id, expectedVersion, model.OutboxFailed, &reason)
}

// transition moves a STARTED row at expectedVersion to status. Zero rows
// affected means another publisher got there first.
func (r *OutboxRepositoryImpl) transition(ctx context.Context, id uuid.UUID, expectedVersion int64, status model.OutboxStatus, reason *string) error {
	const q = `
		UPDATE outbox
		   SET outbox_status = ?, failure_reason = ?, version = version + 1, processed_at = ?
		 WHERE id = ? AND version = ? AND outbox_status = ?
	`
	res, err := r.db.ExecContext(ctx, q, status, reason, model.Now(), id, expectedVersion, model.OutboxStarted)
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: outbox %s version %d", model.ErrStaleOutboxVersion, id, expectedVersion)
	}
	return nil
}
