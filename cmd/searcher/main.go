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
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	dataDir := flag.String("data", "", "index data directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Indexer.DataDir = *dataDir
	}
	cfg.Indexer.ReadOnly = true

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Indexer.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	engine, err := indexer.NewEngine(cfg.Indexer, indexer.WithMetrics(m))
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer engine.Cleanup(context.Background())
	slog.Info("index opened", "documents", engine.Stats().Documents)

	checker := health.NewChecker()
	checker.Register("index_engine", health.EngineCheck(engine.Err, func() int64 {
		return engine.Stats().Pending
	}, cfg.Search.MaxPendingSegments))

	var postingsCache *cache.PostingsCache
	var cacheIface handler.PostingsCache
	var redisPing func(context.Context) error
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, postings caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			postingsCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			cacheIface = postingsCache
			redisPing = redisClient.Ping
			slog.Info("postings cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	checker.Register("redis", health.PingCheck(redisPing, true))

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("document catalog unavailable", "error", err)
			checker.Register("postgres", health.PingCheck(nil, true))
		} else {
			defer pg.Close()
			checker.Register("postgres", health.PingCheck(pg.Ping, true))
		}
	}

	refresh := func(reason string) {
		changed, err := engine.Reload()
		if err != nil {
			slog.Error("index reload failed", "reason", reason, "error", err)
			return
		}
		if !changed {
			return
		}
		if postingsCache != nil {
			if err := postingsCache.Invalidate(ctx); err != nil {
				slog.Warn("postings cache invalidation failed", "error", err)
			}
		}
		slog.Debug("index reloaded", "reason", reason, "pending", engine.Stats().Pending)
	}

	if cfg.Kafka.Enabled {
		completions := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, func(ctx context.Context, key, value []byte) error {
			refresh("index.complete " + string(key))
			return nil
		})
		go func() {
			if err := completions.Start(ctx); err != nil {
				slog.Error("index.complete consumer error", "error", err)
			}
		}()
	}
	if cfg.Search.ReloadInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Search.ReloadInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					refresh("interval")
				}
			}
		}()
	}

	var tok *tokenizer.Tokenizer
	if cfg.Search.StemQueries {
		tok = tokenizer.New(tokenizer.DefaultOptions())
	} else {
		tok = tokenizer.New(tokenizer.PlainOptions())
	}
	h := handler.New(engine, cacheIface, tok)

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
