package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/order-saga/internal/config"
	"github.com/jmehdipour/order-saga/internal/http/middleware"
	"github.com/jmehdipour/order-saga/internal/metrics"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmehdipour/order-saga/internal/saga"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmehdipour/order-saga/internal/service/order"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Audit is the saga audit log as used by the API.
type Audit interface {
	sagalog.Recorder
	sagalog.Reader
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// NewServer wires the order-service API. rds may be nil, which disables
// rate limiting.
func NewServer(cfg config.Config, orderDB *sqlx.DB, audit Audit, rds *redis.Client, log *zap.Logger) *Server {
	// repos
	customersRepo := repository.NewCustomersRepository(orderDB)
	ordersRepo := repository.NewOrdersRepository(orderDB)
	sagaRepo := repository.NewSagaRepository(orderDB)
	outboxRepo := repository.NewOutboxRepository(orderDB)

	// services
	orch := saga.NewOrderOrchestrator(sagaRepo, outboxRepo, log)
	orderSvc := order.New(
		repository.NewTransactor(orderDB),
		ordersRepo,
		customersRepo,
		sagaRepo,
		orch,
		audit,
		audit,
		log,
	)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(log))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	customerMW := middleware.CustomerMiddleware(customersRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:",
		Window:         cfg.RateLimit.Window,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", customerMW, rlMW)
	v1.POST("/orders", placeOrderHandler(orderSvc, log))
	v1.GET("/orders/:trackingId", trackOrderHandler(orderSvc, log))
	v1.GET("/orders/:trackingId/history", orderHistoryHandler(orderSvc, log))

	return &Server{e: e, log: log}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			log.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error),
			)
			return nil
		},
	})
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}
