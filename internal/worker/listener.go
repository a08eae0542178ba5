package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmehdipour/order-saga/internal/kafka"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/metrics"
	"go.uber.org/zap"
)

// Handler applies one record value. mapper.ErrMalformedMessage marks a
// record that is skipped; any other error is retried.
type Handler func(ctx context.Context, value []byte) error

// Fetcher is the consumer side used by Listener.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Listener:
// - fetches records from Kafka,
// - shards them by topic partition, so offsets of one partition are handled
//   and committed in order by one processor (and one saga, keyed to one
//   partition by the producer, is handled serially),
// - runs the handler bound to the record's topic and commits afterwards.
type Listener struct {
	Consumer Fetcher
	Handlers map[string]Handler // topic -> handler

	Workers         int           // number of processors
	MaxAttempts     int           // handler attempts before a failing record is reported
	// DropAfterMaxAttempts commits a record that still fails after
	// MaxAttempts. When false the record is retried until it succeeds, which
	// holds back its partition.
	DropAfterMaxAttempts bool
	RetryBackoff    time.Duration // first retry delay, doubled per attempt
	MaxRetryBackoff time.Duration

	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewListener(consumer Fetcher, handlers map[string]Handler, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		Consumer:        consumer,
		Handlers:        handlers,
		Workers:         8,
		MaxAttempts:     10,
		RetryBackoff:    200 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		log:             log.Named("listener"),
		sleep:           sleepCtx,
	}
}

// Run blocks until ctx is cancelled and every processor has returned.
func (w *Listener) Run(ctx context.Context) error {
	if len(w.Handlers) == 0 {
		return errors.New("listener: no handlers")
	}
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 10
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = 200 * time.Millisecond
	}
	if w.MaxRetryBackoff < w.RetryBackoff {
		w.MaxRetryBackoff = 5 * time.Second
	}

	shards := make([]chan kafka.Message, w.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kafka.Message, 16)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				w.processOne(ctx, m)
			}
		}(shards[i])
	}

	w.fetch(ctx, shards)

	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	return nil
}

func (w *Listener) fetch(ctx context.Context, shards []chan kafka.Message) {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("kafka fetch failed", zap.Error(err))
			if w.sleep(ctx, 200*time.Millisecond) != nil {
				return
			}
			continue
		}
		select {
		case shards[shardOf(m.Topic, m.Partition, len(shards))] <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Listener) processOne(ctx context.Context, m kafka.Message) {
	if ctx.Err() != nil {
		return // not committed, redelivered after restart
	}
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}

	h, ok := w.Handlers[m.Topic]
	if !ok {
		w.log.Error("no handler for topic", fields...)
		w.commit(ctx, m, fields)
		return
	}

	backoff := w.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m.Value)
		switch {
		case err == nil:
			metrics.ConsumerMessagesTotal.WithLabelValues(m.Topic, "ok").Inc()
			w.commit(ctx, m, fields)
			return
		case errors.Is(err, mapper.ErrMalformedMessage):
			metrics.ConsumerMessagesTotal.WithLabelValues(m.Topic, "malformed").Inc()
			w.log.Warn("malformed record skipped", append(fields, zap.Error(err))...)
			w.commit(ctx, m, fields)
			return
		case ctx.Err() != nil:
			return
		case attempt == w.MaxAttempts && w.DropAfterMaxAttempts:
			metrics.ConsumerMessagesTotal.WithLabelValues(m.Topic, "dropped").Inc()
			w.log.Error("record given up", append(fields, zap.Int("attempts", attempt), zap.Error(err))...)
			w.commit(ctx, m, fields)
			return
		case attempt == w.MaxAttempts:
			metrics.ConsumerMessagesTotal.WithLabelValues(m.Topic, "stalled").Inc()
			w.log.Error("record keeps failing, partition held back", append(fields, zap.Int("attempts", attempt), zap.Error(err))...)
		default:
			w.log.Warn("handler failed, retrying", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		}

		if w.sleep(ctx, backoff) != nil {
			return
		}
		backoff = min(backoff*2, w.MaxRetryBackoff)
	}
}

func (w *Listener) commit(ctx context.Context, m kafka.Message, fields []zap.Field) {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.log.Warn("kafka commit failed", append(fields, zap.Error(err))...)
	}
}

// shardOf maps a topic partition to a processor. Kafka commits are per
// partition, so a partition must never be split across processors.
func shardOf(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(n))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
