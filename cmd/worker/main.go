package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/clinic-sync/internal/config"
	"github.com/jwalitptl/clinic-sync/internal/handler/health"
	"github.com/jwalitptl/clinic-sync/internal/repository/postgres"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
	"github.com/jwalitptl/clinic-sync/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-sync/pkg/metrics"
	"github.com/jwalitptl/clinic-sync/pkg/worker"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	healthAddr := flag.String("health-addr", ":8081", "address of the health and metrics listener")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	}).WithFields(map[string]interface{}{"component": "outbox-worker"})
	log.SetGlobal()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log)
	if err != nil {
		log.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("clinic_sync", registry)

	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))
	processor, err := worker.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), log, m)
	if err != nil {
		log.Fatal(err, "Invalid outbox configuration")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, time.Hour, log)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(map[string]health.Pinger{"database": db, "redis": broker}).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	srv := &http.Server{Addr: *healthAddr, Handler: engine, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
}
