package saga

import (
	"context"

	"github.com/jmehdipour/order-saga/internal/metrics"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"go.uber.org/zap"
)

// RecordTransitions appends the transitions of a committed result to the
// audit log. The saga state is already durable, so failures are only logged.
func RecordTransitions(ctx context.Context, rec sagalog.Recorder, log *zap.Logger, res Result) {
	if len(res.Transitions) == 0 {
		return
	}
	for _, t := range res.Transitions {
		metrics.SagaTransitionsTotal.WithLabelValues(string(t.To)).Inc()
	}
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, res.Transitions...); err != nil {
		log.Warn("saga audit record failed",
			zap.Stringer("saga_id", res.Saga.SagaID),
			zap.Int("transitions", len(res.Transitions)),
			zap.Error(err),
		)
	}
}
