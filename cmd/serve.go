package cmd

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
	httpSrv "github.com/jmehdipour/order-saga/internal/http"
	"github.com/jmehdipour/order-saga/internal/logger"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the order service HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err := logger.New(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		orderDB, err := db.Open(sqlOpts(cfg.Database))
		if err != nil {
			return fmt.Errorf("order db connect: %w", err)
		}
		defer orderDB.Close()

		var rds *redis.Client
		if cfg.Redis.Enabled {
			rds, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				PoolSize:    cfg.Redis.PoolSize,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rds.Close() }()
		}

		audit, closeAudit, err := openAudit(cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer closeAudit()

		server := httpSrv.NewServer(cfg, orderDB, audit, rds, log)

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting http", zap.String("addr", cfg.HTTP.Addr))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.Stringer("signal", sig))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

func sqlOpts(c config.DatabaseConfig) db.SQLOpts {
	return db.SQLOpts{
		Driver:          c.Driver,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// openAudit connects the ClickHouse saga log, or returns a no-op log when
// ClickHouse is disabled.
func openAudit(c config.ClickHouseConfig) (httpSrv.Audit, func(), error) {
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
