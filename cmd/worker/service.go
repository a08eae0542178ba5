package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/order-saga/internal/config"
	"github.com/jmehdipour/order-saga/internal/db"
	"github.com/jmehdipour/order-saga/internal/kafka"
	"github.com/jmehdipour/order-saga/internal/listener"
	"github.com/jmehdipour/order-saga/internal/logger"
	"github.com/jmehdipour/order-saga/internal/metrics"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/outbox"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/saga"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmehdipour/order-saga/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Run the order service saga worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, "order", orderRole)
	},
}

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Run the payment service worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, "payment", paymentRole)
	},
}

var restaurantCmd = &cobra.Command{
	Use:   "restaurant",
	Short: "Run the restaurant service worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, "restaurant", restaurantRole)
	},
}

// role is what one service consumes and what its outbox publishes.
type role struct {
	handlers map[string]worker.Handler // topic -> handler
	routes   map[string]string         // outbox type -> topic
	onFailed outbox.FailureHook
	close    func()
}

type roleFunc func(cfg config.Config, dbx *sqlx.DB, outboxRepo repository.OutboxRepository, log *zap.Logger) (role, error)

func orderRole(cfg config.Config, dbx *sqlx.DB, outboxRepo repository.OutboxRepository, log *zap.Logger) (role, error) {
	audit, closeAudit, err := openAudit(cfg.ClickHouse)
	if err != nil {
		return role{}, err
	}

	sagaRepo := repository.NewSagaRepository(dbx)
	orch := saga.NewOrderOrchestrator(sagaRepo, outboxRepo, log)
	responses := listener.NewSagaResponseListener(
		repository.NewTransactor(dbx),
		orch,
		repository.NewOrdersRepository(dbx),
		audit,
		log,
	)
	customers := listener.NewCustomerListener(repository.NewCustomersRepository(dbx), log)

	t := cfg.Kafka.Topics
	return role{
		handlers: map[string]worker.Handler{
			t.PaymentResponse:  responses.HandlePayment,
			t.ApprovalResponse: responses.HandleApproval,
			t.Customer:         customers.Handle,
		},
		routes: map[string]string{
			model.OutboxTypePayment:  t.PaymentRequest,
			model.OutboxTypeApproval: t.ApprovalRequest,
		},
		onFailed: responses.OnPublishFailed,
		close:    closeAudit,
	}, nil
}

func paymentRole(cfg config.Config, dbx *sqlx.DB, outboxRepo repository.OutboxRepository, log *zap.Logger) (role, error) {
	payments := listener.NewPaymentRequestListener(
		repository.NewTransactor(dbx),
		repository.NewPaymentsRepository(),
		repository.NewCreditRepository(),
		repository.NewCreditHistoryRepository(),
		outboxRepo,
		log,
	)
	t := cfg.Kafka.Topics
	return role{
		handlers: map[string]worker.Handler{t.PaymentRequest: payments.Handle},
		routes:   map[string]string{model.OutboxTypePayment: t.PaymentResponse},
		close:    func() {},
	}, nil
}

func restaurantRole(cfg config.Config, dbx *sqlx.DB, outboxRepo repository.OutboxRepository, log *zap.Logger) (role, error) {
	approvals := listener.NewApprovalRequestListener(
		repository.NewTransactor(dbx),
		repository.NewRestaurantsRepository(),
		repository.NewApprovalsRepository(),
		outboxRepo,
		log,
	)
	t := cfg.Kafka.Topics
	return role{
		handlers: map[string]worker.Handler{t.ApprovalRequest: approvals.Handle},
		routes:   map[string]string{model.OutboxTypeApproval: t.ApprovalResponse},
		close:    func() {},
	}, nil
}

func runService(cmd *cobra.Command, name string, build roleFunc) error {
	// 1) config + logger
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", name))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) service database
	dbx, err := db.Open(db.SQLOpts{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		PingTimeout:     cfg.Database.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("%s db connect: %w", name, err)
	}
	defer dbx.Close()

	// 3) service wiring
	outboxRepo := repository.NewOutboxRepository(dbx)
	r, err := build(cfg, dbx, outboxRepo, log)
	if err != nil {
		return err
	}
	defer r.close()

	// 4) kafka
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = name + "-service"
	}
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topics:         topics,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: cfg.Kafka.CommitInterval,
	})
	defer consumer.Close()

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	})
	defer producer.Close()

	// 5) listener + publisher
	l := worker.NewListener(consumer, r.handlers, log)
	if cfg.Listener.Workers > 0 {
		l.Workers = cfg.Listener.Workers
	}
	if cfg.Listener.MaxAttempts > 0 {
		l.MaxAttempts = cfg.Listener.MaxAttempts
	}
	l.DropAfterMaxAttempts = cfg.Listener.DropAfterMaxAttempts
	if cfg.Listener.RetryBackoff > 0 {
		l.RetryBackoff = cfg.Listener.RetryBackoff
	}
	if cfg.Listener.MaxRetryBackoff > 0 {
		l.MaxRetryBackoff = cfg.Listener.MaxRetryBackoff
	}

	oc := cfg.Outbox
	pub := outbox.NewPublisher(
		outboxRepo,
		producer,
		outbox.NewBreaker(oc.Breaker.FailThreshold, oc.Breaker.OpenFor),
		outbox.Config{
			Routes:       r.routes,
			PollInterval: oc.PollInterval,
			BatchSize:    oc.BatchSize,
			MaxAttempts:  oc.MaxAttempts,
			BaseBackoff:  oc.BaseBackoff,
			MaxBackoff:   oc.MaxBackoff,
			SendTimeout:  oc.SendTimeout,
		},
		log,
	)
	if r.onFailed != nil {
		pub.OnFailed(r.onFailed)
	}

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.Strings("topics", topics),
		zap.String("group", groupID),
		zap.Int("workers", l.Workers),
		zap.Duration("poll_interval", oc.PollInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(ctx) })
	g.Go(func() error { return pub.Run(ctx) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, log) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("worker stopped")
	return err
}

func serveMetrics(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// openAudit connects the ClickHouse saga log, or a no-op log when disabled.
func openAudit(c config.ClickHouseConfig) (sagalog.Recorder, func(), error) {
	if !c.Enabled {
		return sagalog.Nop{}, func() {}, nil
	}
	ch, err := sagalog.OpenClickHouse(sagalog.ClickHouseOpts{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		PingTimeout:     c.PingTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return sagalog.NewClickHouseRecorder(ch), func() { _ = ch.Close() }, nil
}
