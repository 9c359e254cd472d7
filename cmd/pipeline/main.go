package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"itinerary_pipeline/internal/config"
	"itinerary_pipeline/internal/extractor"
	"itinerary_pipeline/internal/publisher"
	"itinerary_pipeline/internal/scheduler"
	"itinerary_pipeline/internal/scraper"
	"itinerary_pipeline/internal/service"
	"itinerary_pipeline/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single pipeline pass and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	sourceStore := postgres.NewSourceStore(db)
	queueStore := postgres.NewQueueStore(db)
	rawStore := postgres.NewRawItineraryStore(db)
	processedStore := postgres.NewProcessedStore(db)
	txManager := postgres.NewTransactionManager(db)

	webScraper := scraper.New(scraper.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.Scraper.Timeout,
	}, scraper.NewRateLimiter(), logger)

	extractionClient := extractor.New(extractor.Config{
		BaseURL:        cfg.Extractor.BaseURL,
		APIKey:         cfg.Extractor.APIKey,
		Model:          cfg.Extractor.Model,
		Timeout:        cfg.Extractor.Timeout,
		Temperature:    cfg.Extractor.Temperature,
		MaxAttempts:    cfg.Extractor.MaxAttempts,
		InitialBackoff: cfg.Extractor.InitialBackoff,
		MaxBackoff:     cfg.Extractor.MaxBackoff,
	}, logger)

	queueService := service.NewQueueService(
		queueStore,
		sourceStore,
		rawStore,
		webScraper,
		txManager,
		logger,
		cfg.Scraper,
	)

	extractionService := service.NewExtractionService(
		rawStore,
		processedStore,
		sourceStore,
		extractionClient,
		txManager,
		rabbitMQ,
		logger,
		cfg.Extractor,
	)

	sched := scheduler.New(
		[]scheduler.Runner{queueService, extractionService},
		cfg.Pipeline.Interval,
		cfg.Pipeline.PassTimeout,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting itinerary pipeline",
		"interval", cfg.Pipeline.Interval,
		"max_queue_items", cfg.Scraper.MaxQueueItems,
		"max_raw_items", cfg.Extractor.MaxRawItems,
	)

	if *once {
		sched.RunOnce(ctx)
		return
	}

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
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
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
