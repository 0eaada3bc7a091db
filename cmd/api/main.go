package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-sync/internal/config"
	appointmenthandler "github.com/jwalitptl/clinic-sync/internal/handler/appointment"
	"github.com/jwalitptl/clinic-sync/internal/handler/health"
	"github.com/jwalitptl/clinic-sync/internal/handler/patient"
	prometheushandler "github.com/jwalitptl/clinic-sync/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-sync/internal/handler/treatment"
	"github.com/jwalitptl/clinic-sync/internal/repository/postgres"
	"github.com/jwalitptl/clinic-sync/internal/router"
	"github.com/jwalitptl/clinic-sync/internal/service/appointment"
	"github.com/jwalitptl/clinic-sync/internal/service/event"
	"github.com/jwalitptl/clinic-sync/internal/service/lifecycle"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
	"github.com/jwalitptl/clinic-sync/pkg/metrics"
	"github.com/jwalitptl/clinic-sync/pkg/validator"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
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
	})
	log.SetGlobal()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal(err, "failed to apply migrations")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("clinic_sync", registry)

	repos := postgres.NewRepositories(db)
	events := event.NewService(repos.Outbox)
	creator := appointment.NewService(repos, validator.New(), events, m, log, appointment.Config{
		DefaultTotalVisits: cfg.Sync.DefaultTotalVisits,
		Location:           cfg.Sync.Location(),
	})
	coordinator := lifecycle.NewService(repos, events, m, log)

	r := router.NewRouter(
		router.RouterConfig{
			Mode:      cfg.Server.Mode,
			RateLimit: rate.Limit(cfg.Server.RequestsPerSecond),
			RateBurst: cfg.Server.Burst,
			Timeout:   cfg.Server.Timeout,
		},
		health.NewHandler(map[string]health.Pinger{"database": db}),
		prometheushandler.New("clinic_sync", registry),
		appointmenthandler.NewHandler(creator, coordinator, repos, cfg.Sync.DedupeWindow),
		treatment.NewHandler(repos.Treatments),
		patient.NewHandler(repos.Teeth),
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}
	log.Info("server exited")
}
