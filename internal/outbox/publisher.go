// Package outbox relays STARTED outbox rows to the message broker.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/jmehdipour/order-saga/internal/metrics"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"go.uber.org/zap"
)

var errBreakerOpen = errors.New("outbox: breaker open")

// Sender delivers one record to a topic.
type Sender interface {
	Send(ctx context.Context, topic string, key, value []byte) error
}

// FailureHook is called after a row was marked FAILED.
type FailureHook func(ctx context.Context, m model.OutboxMessage, reason string)

type Config struct {
	Routes       map[string]string // outbox type -> topic
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	SendTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
}

// Publisher polls the outbox and publishes pending rows. Several publishers
// may share a table; the version check on the status update decides which
// one records the outcome.
type Publisher struct {
	cfg      Config
	types    []string
	store    repository.OutboxRepository
	sender   Sender
	breaker  *Breaker
	onFailed FailureHook
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPublisher builds a publisher. breaker may be nil.
func NewPublisher(store repository.OutboxRepository, sender Sender, breaker *Breaker, cfg Config, log *zap.Logger) *Publisher {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	types := make([]string, 0, len(cfg.Routes))
	for t := range cfg.Routes {
		types = append(types, t)
	}
	sort.Strings(types)

	return &Publisher{
		cfg:     cfg,
		types:   types,
		store:   store,
		sender:  sender,
		breaker: breaker,
		log:     log.Named("outbox"),
		sleep:   sleepCtx,
	}
}

// OnFailed registers the hook run for rows that exhausted their attempts.
func (p *Publisher) OnFailed(h FailureHook) { p.onFailed = h }

// Run polls until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	tick := time.NewTicker(p.cfg.PollInterval)
	defer tick.Stop()

	p.log.Info("outbox publisher started", zap.Strings("types", p.types), zap.Duration("poll_interval", p.cfg.PollInterval))
	for {
		if err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("outbox pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// RunOnce publishes one batch per outbox type, oldest rows first. An open
// breaker ends the pass and leaves the remaining rows for the next one.
func (p *Publisher) RunOnce(ctx context.Context) error {
	for _, typ := range p.types {
		rows, err := p.store.FindPendingByType(ctx, typ, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, m := range rows {
			err := p.publish(ctx, p.cfg.Routes[typ], m)
			if errors.Is(err, errBreakerOpen) {
				p.log.Warn("breaker open, pass stopped", zap.String("type", typ))
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, m model.OutboxMessage) error {
	fields := []zap.Field{
		zap.Stringer("outbox_id", m.ID),
		zap.Stringer("saga_id", m.SagaID),
		zap.String("type", m.Type),
		zap.String("topic", topic),
	}

	value, err := mapper.EncodeEnvelope(m)
	if err != nil {
		p.fail(ctx, m, err.Error(), fields)
		return nil
	}

	err = p.sendWithRetry(ctx, topic, []byte(m.SagaID.String()), value, fields)
	switch {
	case err == nil:
	case errors.Is(err, errBreakerOpen):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.fail(ctx, m, err.Error(), fields)
		return nil
	}

	if err := p.store.MarkCompleted(ctx, m.ID, m.Version); err != nil {
		if errors.Is(err, model.ErrStaleOutboxVersion) {
			metrics.OutboxMessagesTotal.WithLabelValues("stale", m.Type).Inc()
			p.log.Debug("outbox row taken by another publisher", fields...)
			return nil
		}
		return err
	}
	metrics.OutboxMessagesTotal.WithLabelValues("published", m.Type).Inc()
	p.log.Debug("outbox row published", fields...)
	return nil
}

func (p *Publisher) sendWithRetry(ctx context.Context, topic string, key, value []byte, fields []zap.Field) error {
	var last error
	backoff := p.cfg.BaseBackoff
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if p.breaker != nil && !p.breaker.TryAcquire() {
			return errBreakerOpen
		}

		sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		err := p.sender.Send(sctx, topic, key, value)
		cancel()
		if err == nil {
			if p.breaker != nil {
				p.breaker.OnSuccess()
			}
			return nil
		}
		if p.breaker != nil {
			p.breaker.OnFailure()
		}
		last = err
		p.log.Warn("outbox send failed", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, p.cfg.MaxBackoff)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", model.ErrTransportSend, topic, p.cfg.MaxAttempts, last)
}

func (p *Publisher) fail(ctx context.Context, m model.OutboxMessage, reason string, fields []zap.Field) {
	if err := p.store.MarkFailed(ctx, m.ID, m.Version, reason); err != nil {
		if errors.Is(err, model.ErrStaleOutboxVersion) {
			p.log.Debug("outbox row taken by another publisher", fields...)
			return
		}
		p.log.Error("mark outbox failed", append(fields, zap.Error(err))...)
		return
	}
	metrics.OutboxMessagesTotal.WithLabelValues("failed", m.Type).Inc()
	p.log.Error("outbox row failed", append(fields, zap.String("reason", reason))...)
	if p.onFailed != nil {
		p.onFailed(ctx, m, reason)
	}
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
