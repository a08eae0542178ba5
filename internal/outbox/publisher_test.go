package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/dbtest"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sent struct {
	topic string
	key   string
	value []byte
}

type fakeSender struct {
	mu    sync.Mutex
	sends []sent
	calls int
	err   error
}

func (s *fakeSender) Send(_ context.Context, topic string, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, sent{topic: topic, key: string(key), value: value})
	return nil
}

// hangingSender never answers; every send ends on its own deadline.
type hangingSender struct {
	mu   sync.Mutex
	errs []error
}

func (s *hangingSender) Send(ctx context.Context, _ string, _, _ []byte) error {
	<-ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, ctx.Err())
	return ctx.Err()
}

// racingStore lets another publisher complete the row first.
type racingStore struct {
	repository.OutboxRepository
}

func (r racingStore) MarkCompleted(ctx context.Context, id uuid.UUID, v int64) error {
	if err := r.OutboxRepository.MarkCompleted(ctx, id, v); err != nil {
		return err
	}
	return r.OutboxRepository.MarkCompleted(ctx, id, v)
}

var routes = map[string]string{
	model.OutboxTypePayment:  "order-payment-request",
	model.OutboxTypeApproval: "order-approval-request",
}

func seed(t *testing.T, db *sqlx.DB, rows ...*model.OutboxMessage) {
	t.Helper()
	store := repository.NewOutboxRepository(db)
	for _, m := range rows {
		require.NoError(t, store.Save(context.Background(), nil, m))
	}
}

func statusOf(t *testing.T, db *sqlx.DB, id uuid.UUID) (model.OutboxStatus, *string) {
	t.Helper()
	var row struct {
		Status model.OutboxStatus `db:"outbox_status"`
		Reason *string            `db:"failure_reason"`
	}
	require.NoError(t, db.Get(&row, `SELECT outbox_status, failure_reason FROM outbox WHERE id = ?`, id))
	return row.Status, row.Reason
}

func TestPublisher_PublishesOnceInOrder(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	base := model.Now()
	sagaID := uuid.New()
	first := model.NewOutboxMessage(sagaID, model.OutboxTypePayment, "PENDING", []byte(`{"n":1}`), base)
	second := model.NewOutboxMessage(sagaID, model.OutboxTypePayment, "CANCELLED", []byte(`{"n":2}`), base.Add(time.Millisecond))
	approval := model.NewOutboxMessage(sagaID, model.OutboxTypeApproval, "PAID", []byte(`{"n":3}`), base)
	seed(t, db, second, approval, first)

	sender := &fakeSender{}
	p := NewPublisher(repository.NewOutboxRepository(db), sender, NewBreaker(5, time.Second), Config{Routes: routes}, zaptest.NewLogger(t))

	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, sender.sends, 3)
	assert.Equal(t, "order-approval-request", sender.sends[0].topic)
	assert.Equal(t, "order-payment-request", sender.sends[1].topic)
	assert.Contains(t, string(sender.sends[1].value), `"payload":{"n":1}`)
	assert.Contains(t, string(sender.sends[2].value), `"payload":{"n":2}`)
	assert.Equal(t, sagaID.String(), sender.sends[1].key)

	for _, m := range []*model.OutboxMessage{first, second, approval} {
		st, _ := statusOf(t, db, m.ID)
		assert.Equal(t, model.OutboxCompleted, st)
	}

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 3, sender.calls, "completed rows are not sent again")
}

func TestPublisher_LostRaceIsTolerated(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	m := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "PENDING", []byte(`{}`), model.Now())
	seed(t, db, m)

	sender := &fakeSender{}
	p := NewPublisher(racingStore{repository.NewOutboxRepository(db)}, sender, nil, Config{Routes: routes}, zaptest.NewLogger(t))

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 1, sender.calls)
	st, _ := statusOf(t, db, m.ID)
	assert.Equal(t, model.OutboxCompleted, st)
}

func TestPublisher_ExhaustedRowIsMarkedFailed(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	m := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "CANCELLED", []byte(`{}`), model.Now())
	seed(t, db, m)

	sender := &fakeSender{err: errors.New("broker down")}
	p := NewPublisher(repository.NewOutboxRepository(db), sender, nil, Config{
		Routes:      routes,
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  250 * time.Millisecond,
	}, zaptest.NewLogger(t))

	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	var hooked []model.OutboxMessage
	p.OnFailed(func(_ context.Context, m model.OutboxMessage, reason string) {
		hooked = append(hooked, m)
		assert.Contains(t, reason, "broker down")
	})

	require.NoError(t, p.RunOnce(context.Background()))

	assert.Equal(t, 5, sender.calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond,
	}, slept)

	st, reason := statusOf(t, db, m.ID)
	assert.Equal(t, model.OutboxFailed, st)
	require.NotNil(t, reason)
	assert.Contains(t, *reason, "broker down")

	require.Len(t, hooked, 1)
	assert.Equal(t, m.ID, hooked[0].ID)
}

func TestPublisher_OpenBreakerLeavesRowsStarted(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	a := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "PENDING", []byte(`{}`), model.Now())
	b := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "PENDING", []byte(`{}`), model.Now().Add(time.Millisecond))
	seed(t, db, a, b)

	sender := &fakeSender{err: errors.New("broker down")}
	p := NewPublisher(repository.NewOutboxRepository(db), sender, NewBreaker(1, time.Hour), Config{Routes: routes}, zaptest.NewLogger(t))
	p.sleep = func(context.Context, time.Duration) error { return nil }

	require.NoError(t, p.RunOnce(context.Background()))

	assert.Equal(t, 1, sender.calls)
	for _, m := range []*model.OutboxMessage{a, b} {
		st, _ := statusOf(t, db, m.ID)
		assert.Equal(t, model.OutboxStarted, st)
	}
}

func TestPublisher_SendTimeoutIsRetried(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	m := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "PENDING", []byte(`{}`), model.Now())
	seed(t, db, m)

	sender := &hangingSender{}
	p := NewPublisher(repository.NewOutboxRepository(db), sender, nil, Config{
		Routes:      routes,
		MaxAttempts: 3,
		SendTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	p.sleep = func(context.Context, time.Duration) error { return nil }

	require.NoError(t, p.RunOnce(context.Background()))

	require.Len(t, sender.errs, 3)
	for _, err := range sender.errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	st, reason := statusOf(t, db, m.ID)
	assert.Equal(t, model.OutboxFailed, st)
	require.NotNil(t, reason)
	assert.Contains(t, *reason, "deadline exceeded")
}

func TestPublisher_TimeoutsOpenBreakerAndKeepRowStarted(t *testing.T) {
	db := dbtest.Open(t, dbtest.Order)
	m := model.NewOutboxMessage(uuid.New(), model.OutboxTypePayment, "PENDING", []byte(`{}`), model.Now())
	seed(t, db, m)

	sender := &hangingSender{}
	p := NewPublisher(repository.NewOutboxRepository(db), sender, NewBreaker(2, time.Hour), Config{
		Routes:      routes,
		MaxAttempts: 5,
		SendTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	p.sleep = func(context.Context, time.Duration) error { return nil }

	require.NoError(t, p.RunOnce(context.Background()))

	assert.Len(t, sender.errs, 2, "breaker stops the attempts")
	st, reason := statusOf(t, db, m.ID)
	assert.Equal(t, model.OutboxStarted, st)
	assert.Nil(t, reason)

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Len(t, sender.errs, 2, "no send while open")
	st, _ = statusOf(t, db, m.ID)
	assert.Equal(t, model.OutboxStarted, st)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	b.OnFailure()
	assert.True(t, b.TryAcquire())
	b.OnFailure()
	assert.False(t, b.TryAcquire(), "open after threshold")

	now = now.Add(2 * time.Minute)
	assert.True(t, b.TryAcquire(), "one probe after cool-down")
	assert.False(t, b.TryAcquire(), "probe in flight")

	b.OnSuccess()
	assert.True(t, b.TryAcquire())
}
