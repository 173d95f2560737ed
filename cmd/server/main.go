// Command server runs the document consistency engine: the HTTP API, the
// PostgreSQL record store, the optional Redis graph cache, and the audit
// outbox relay.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"redline/internal/drift"
	drifthandler "redline/internal/drift/handler"
	driftmetrics "redline/internal/drift/metrics"
	"redline/internal/graph"
	graphhandler "redline/internal/graph/handler"
	graphmetrics "redline/internal/graph/metrics"
	httpapi "redline/internal/http"
	"redline/internal/membership"
	"redline/internal/platform/config"
	"redline/internal/platform/httpserver"
	"redline/internal/platform/logger"
	"redline/internal/platform/metrics"
	"redline/internal/platform/middleware"
	"redline/internal/platform/postgres"
	platformredis "redline/internal/platform/redis"
	"redline/internal/reconcile"
	"redline/internal/reconcile/adapters"
	reconhandler "redline/internal/reconcile/handler"
	reconmetrics "redline/internal/reconcile/metrics"
	"redline/internal/workspace"
	"redline/pkg/platform/audit/publisher"
	"redline/pkg/platform/audit/relay"
	auditpg "redline/pkg/platform/audit/store/postgres"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	httpMetrics := metrics.New()
	txRunner := postgres.NewTxRunner(db)

	auditStore := auditpg.New(db)
	auditor := publisher.NewPublisher(auditStore)
	defer auditor.Close()

	workspaceStore := workspace.NewPostgresStore(db)
	memberChecker := membership.NewService(membership.NewPostgresStore(db))
	driftStore := drift.NewPostgresStore(db)
	graphStore := graph.NewPostgresStore(db)
	reconStore := reconcile.NewPostgresStore(db)

	graphCache := graph.NewCache(redisClient, log)
	graphService := graph.NewService(memberChecker, workspaceStore, driftStore, graphStore,
		auditor, txRunner, graphCache, log, graphmetrics.New())
	driftService := drift.NewService(memberChecker, workspaceStore, driftStore,
		auditor, txRunner, graphService, log, driftmetrics.New())
	reconService := reconcile.NewService(memberChecker, workspaceStore, reconStore,
		driftService, graphService,
		adapters.NewHTTPExtractor(cfg.ExtractorURL, nil),
		adapters.NewHTTPProposer(cfg.ProposerURL, nil),
		auditor, txRunner, log, reconmetrics.New())

	validator := middleware.NewHMACValidator(cfg.JWTSigningKey)
	router := httpapi.NewRouter(
		func() error { return db.PingContext(context.Background()) },
		graphhandler.New(graphService, log, httpMetrics, validator),
		drifthandler.New(driftService, log, httpMetrics, validator),
		reconhandler.New(reconService, log, httpMetrics, validator),
	)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.Topic),
		)
		if err != nil {
			return err
		}
		defer producer.Close()

		auditRelay := relay.New(db, producer, cfg.Kafka.Topic, log)
		g.Go(func() error {
			return auditRelay.Run(gctx)
		})
	} else {
		log.Warn("kafka brokers not configured, audit relay disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
