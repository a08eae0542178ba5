package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/dbtest"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRow(sagaID uuid.UUID, typ, status string, at time.Time) *model.OutboxMessage {
	return model.NewOutboxMessage(sagaID, typ, status, []byte(`{}`), at)
}

func TestOutbox_SaveRejectsSecondStartedRow(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(dbtest.Open(t, dbtest.Payment))
	sagaID := uuid.New()
	now := model.Now()

	first := newRow(sagaID, model.OutboxTypePayment, "COMPLETED", now)
	require.NoError(t, repo.Save(ctx, nil, first))

	err := repo.Save(ctx, nil, newRow(sagaID, model.OutboxTypePayment, "COMPLETED", now))
	assert.ErrorIs(t, err, model.ErrDuplicateOutboxEntry)

	// another outcome of the same saga is a different row
	require.NoError(t, repo.Save(ctx, nil, newRow(sagaID, model.OutboxTypePayment, "CANCELLED", now)))

	// once published, the key is free again
	require.NoError(t, repo.MarkCompleted(ctx, first.ID, first.Version))
	assert.NoError(t, repo.Save(ctx, nil, newRow(sagaID, model.OutboxTypePayment, "COMPLETED", now)))
}

func TestOutbox_FindPendingByType(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(dbtest.Open(t, dbtest.Order))
	base := model.Now()

	late := newRow(uuid.New(), model.OutboxTypePayment, "PENDING", base.Add(2*time.Second))
	early := newRow(uuid.New(), model.OutboxTypePayment, "PENDING", base)
	other := newRow(uuid.New(), model.OutboxTypeApproval, "PENDING", base)
	done := newRow(uuid.New(), model.OutboxTypePayment, "PENDING", base.Add(time.Second))
	for _, m := range []*model.OutboxMessage{late, early, other, done} {
		require.NoError(t, repo.Save(ctx, nil, m))
	}
	require.NoError(t, repo.MarkCompleted(ctx, done.ID, 0))

	rows, err := repo.FindPendingByType(ctx, model.OutboxTypePayment, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, early.ID, rows[0].ID)
	assert.Equal(t, late.ID, rows[1].ID)
	assert.Equal(t, model.OutboxStarted, rows[0].OutboxStatus)

	rows, err = repo.FindPendingByType(ctx, model.OutboxTypePayment, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, early.ID, rows[0].ID)
}

func TestOutbox_TransitionChecksVersion(t *testing.T) {
	ctx := context.Background()
	dbx := dbtest.Open(t, dbtest.Restaurant)
	repo := NewOutboxRepository(dbx)

	m := newRow(uuid.New(), model.OutboxTypeApproval, "APPROVED", model.Now())
	require.NoError(t, repo.Save(ctx, nil, m))

	require.NoError(t, repo.MarkCompleted(ctx, m.ID, 0))
	assert.ErrorIs(t, repo.MarkCompleted(ctx, m.ID, 0), model.ErrStaleOutboxVersion)
	assert.ErrorIs(t, repo.MarkFailed(ctx, m.ID, 1, "late"), model.ErrStaleOutboxVersion)

	var got model.OutboxMessage
	require.NoError(t, dbx.Get(&got, `SELECT id, saga_id, type, event_status, payload, outbox_status, failure_reason,
		version, created_at, processed_at FROM outbox WHERE id = ?`, m.ID))
	assert.Equal(t, model.OutboxCompleted, got.OutboxStatus)
	assert.EqualValues(t, 1, got.Version)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.FailureReason)
}

func TestOutbox_MarkFailedKeepsReason(t *testing.T) {
	ctx := context.Background()
	dbx := dbtest.Open(t, dbtest.Order)
	repo := NewOutboxRepository(dbx)

	m := newRow(uuid.New(), model.OutboxTypePayment, "PENDING", model.Now())
	require.NoError(t, repo.Save(ctx, nil, m))
	require.NoError(t, repo.MarkFailed(ctx, m.ID, 0, "broker unreachable"))

	var reason string
	require.NoError(t, dbx.Get(&reason, `SELECT failure_reason FROM outbox WHERE id = ?`, m.ID))
	assert.Equal(t, "broker unreachable", reason)

	rows, err := repo.FindPendingByType(ctx, model.OutboxTypePayment, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOutbox_ExistsProcessed(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(dbtest.Open(t, dbtest.Payment))
	sagaID := uuid.New()

	m := newRow(sagaID, model.OutboxTypePayment, "COMPLETED", model.Now())
	require.NoError(t, repo.Save(ctx, nil, m))

	ok, err := repo.ExistsProcessed(ctx, nil, sagaID, model.OutboxTypePayment, "COMPLETED", "FAILED")
	require.NoError(t, err)
	assert.False(t, ok, "STARTED rows are not processed yet")

	require.NoError(t, repo.MarkCompleted(ctx, m.ID, 0))

	ok, err = repo.ExistsProcessed(ctx, nil, sagaID, model.OutboxTypePayment, "COMPLETED", "FAILED")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsProcessed(ctx, nil, sagaID, model.OutboxTypePayment, "CANCELLED")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ExistsProcessed(ctx, nil, sagaID, model.OutboxTypePayment)
	require.NoError(t, err)
	assert.False(t, ok)
}
