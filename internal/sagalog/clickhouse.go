package sagalog

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

type ClickHouseOpts struct {
	DSN             string // e.g. clickhouse://default:@localhost:9000/saga?dial_timeout=5s&compress=true
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration // default 3s
}

// OpenClickHouse connects the audit store.
func OpenClickHouse(opts ClickHouseOpts) (*sqlx.DB, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	ch, err := sqlx.Open("clickhouse", opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		ch.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		ch.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		ch.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	if err := ch.PingContext(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return ch, nil
}

// ClickHouseRecorder stores transitions in the saga_transitions table.
type ClickHouseRecorder struct {
	ch *sqlx.DB
}

func NewClickHouseRecorder(ch *sqlx.DB) *ClickHouseRecorder {
	return &ClickHouseRecorder{ch: ch}
}

var (
	_ Recorder = (*ClickHouseRecorder)(nil)
	_ Reader   = (*ClickHouseRecorder)(nil)
)

// Record sends all transitions as one batch.
func (r *ClickHouseRecorder) Record(ctx context.Context, ts ...Transition) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO saga_transitions (saga_id, saga_type, from_step, to_step, reason, created_at)
	`)
	if err != nil {
		return fmt.Errorf("clickhouse prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, t := range ts {
		if _, err := stmt.ExecContext(ctx,
			t.SagaID.String(), string(t.SagaType), string(t.From), string(t.To), t.Reason, t.At,
		); err != nil {
			return fmt.Errorf("clickhouse append transition of %s: %w", t.SagaID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse send batch: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]Transition, error) {
	var rows []struct {
		SagaID   string    `db:"saga_id"`
		SagaType string    `db:"saga_type"`
		From     string    `db:"from_step"`
		To       string    `db:"to_step"`
		Reason   string    `db:"reason"`
		At       time.Time `db:"created_at"`
	}
	if err := r.ch.SelectContext(ctx, &rows, `
		SELECT saga_id, saga_type, from_step, to_step, reason, created_at
		FROM saga_transitions
		WHERE saga_id = ?
		ORDER BY created_at
	`, sagaID.String()); err != nil {
		return nil, fmt.Errorf("clickhouse list transitions of %s: %w", sagaID, err)
	}

	out := make([]Transition, 0, len(rows))
	for _, rw := range rows {
		out = append(out, Transition{
			SagaID:   sagaID,
			SagaType: model.SagaType(rw.SagaType),
			From:     model.SagaStep(rw.From),
			To:       model.SagaStep(rw.To),
			Reason:   rw.Reason,
			At:       rw.At,
		})
	}
	return out, nil
}
