package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"vc_metrics/internal/api"
	"vc_metrics/internal/config"
	"vc_metrics/internal/domain"
	"vc_metrics/internal/metrics"
	"vc_metrics/internal/publisher"
	"vc_metrics/internal/revenue"
	"vc_metrics/internal/scheduler"
	"vc_metrics/internal/service"
	"vc_metrics/internal/source/vc"
	"vc_metrics/internal/storage/memory"
	"vc_metrics/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	articles     service.ArticleStore
	observations service.ObservationStore
	txManager    service.TransactionManager
	close        func() error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run returns the exit code; deferred closers have run by the time main
// calls os.Exit.
func run(configPath string) int {
	logger := setupLogger("info", "json")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	logger = setupLogger(cfg.LogLevel, cfg.LogFormat)

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		return 1
	}
	defer st.close()

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		actions := make([]domain.EventAction, 0, len(cfg.RabbitMQ.Actions))
		for _, a := range cfg.RabbitMQ.Actions {
			actions = append(actions, domain.EventAction(a))
		}
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
			Actions:    actions,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return 1
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	vcSource := vc.New(vc.Config{
		APIBaseURL:     cfg.Source.APIBaseURL,
		SiteBaseURL:    cfg.Source.SiteBaseURL,
		Timeout:        cfg.Source.Timeout,
		RatePerSecond:  cfg.Source.RatePerSecond,
		Burst:          cfg.Source.Burst,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
		Selectors: vc.Selectors{
			Title:     cfg.Source.Selectors.Title,
			Published: cfg.Source.Selectors.Published,
			Views:     cfg.Source.Selectors.Views,
			Hits:      cfg.Source.Selectors.Hits,
		},
	}, logger)

	tracker := service.NewTracker(
		vcSource,
		st.articles,
		st.observations,
		st.txManager,
		pub,
		collector,
		logger,
		cfg.Refresh,
		revenue.Pricing{
			PlacementPrice: cfg.Pricing.PlacementPrice,
			CPMViews:       cfg.Pricing.CPMViews,
			CPMHits:        cfg.Pricing.CPMHits,
		},
	)

	location, err := time.LoadLocation(cfg.Refresh.Timezone)
	if err != nil {
		logger.Error("failed to load timezone", "timezone", cfg.Refresh.Timezone, "error", err)
		return 1
	}

	sched, err := scheduler.NewScheduler(tracker, scheduler.Config{
		Interval:     cfg.Refresh.Interval,
		RunAt:        cfg.Refresh.RunAt,
		Location:     location,
		RunOnStart:   cfg.Refresh.RunOnStart,
		BatchTimeout: cfg.Refresh.BatchTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}

	handler := api.NewHandler(tracker, metrics.Handler(registry), cfg.HTTP.RequestTimeout, logger)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting vc metrics tracker",
		"source", vcSource.ID(),
		"storage", cfg.Storage.Driver,
		"addr", cfg.HTTP.Addr,
		"interval", cfg.Refresh.Interval,
		"run_at", cfg.Refresh.RunAt,
		"timezone", cfg.Refresh.Timezone,
		"workers", cfg.Refresh.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("tracker stopped with error", "error", err)
		return 1
	}

	logger.Info("tracker stopped")
	return 0
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &stores{
			articles:     store,
			observations: store,
			txManager:    store,
			close:        func() error { return nil },
		}, nil
	}

	if cfg.Database.RunMigrations {
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to database")

	return &stores{
		articles:     postgres.NewArticleStore(db),
		observations: postgres.NewObservationStore(db),
		txManager:    postgres.NewTransactionManager(db),
		close:        db.Close,
	}, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
