package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	if !cfg.Postgres.Enabled || !cfg.Kafka.Enabled {
		slog.Error("ingestion needs both postgres and kafka enabled")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply catalog schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentIngest)

	m := metrics.New(nil)
	h := handler.New(publisher.New(db, producer))

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
