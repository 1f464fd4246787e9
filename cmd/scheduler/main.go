// cmd/scheduler/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"push-engine/internal/common/config"
	"push-engine/internal/common/database"
	"push-engine/internal/common/logger"
	"push-engine/internal/common/observability"
	"push-engine/internal/dispatch"
	"push-engine/internal/scheduler"
	"push-engine/internal/store"
	"push-engine/internal/store/ledgersearch"
	"push-engine/internal/transport/snspush"
	"push-engine/internal/transport/webpush"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting push scheduler",
		zap.String("environment", cfg.App.Environment),
		zap.String("transport", cfg.Transport.Mode),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()

	// --- Stores ---
	notifications := store.NewNotificationStore(pg.DB, log)
	directory := store.NewSubscriptionDirectory(pg.DB, rdb.Client,
		time.Duration(cfg.Directory.RecentTTL)*time.Second, log)
	pgLedger := store.NewDeliveryLedger(pg.DB, log)

	var ledger dispatch.Ledger = pgLedger
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Fatal("elasticsearch client failed", zap.Error(err))
		}
		if err := es.Ping(); err != nil {
			zapLog.Warn("elasticsearch unreachable, mirroring anyway", zap.Error(err))
		}
		ledger = ledgersearch.NewMirroredLedger(pgLedger, ledgersearch.NewIndexer(es.Client, log))
	}

	// --- Transport ---
	var transport dispatch.Transport
	switch cfg.Transport.Mode {
	case "sns":
		transport, err = snspush.New(ctx, cfg.Transport.AWSRegion)
		if err != nil {
			zapLog.Fatal("sns transport failed", zap.Error(err))
		}
	default:
		transport = webpush.New(
			time.Duration(cfg.Dispatch.AttemptTimeout)*time.Millisecond,
			cfg.Transport.TTL,
		)
	}

	dispatcher := dispatch.NewDispatcher(
		directory, ledger, transport,
		cfg.Dispatch.MaxConcurrency,
		time.Duration(cfg.Dispatch.AttemptTimeout)*time.Millisecond,
		log,
	).WithObservability(obs)

	sched := scheduler.New(
		notifications, dispatcher,
		time.Duration(cfg.Scheduler.TickInterval)*time.Second,
		cfg.Scheduler.ClaimBatch,
		log,
	)

	// --- Metrics / pprof server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		zapLog.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			zapLog.Error("metrics server exited", zap.Error(err))
		}
	}()

	// --- Directory gauge sweep ---
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := directory.Counts(ctx); err != nil {
					zapLog.Warn("directory counts sweep failed", zap.Error(err))
				}
			}
		}
	}()

	sched.Run(ctx)
	zapLog.Info("shutdown complete")
}
