package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	docsDir := flag.String("d", "", "index every file under this directory, then exit")
	dataDir := flag.String("data", "", "index data directory (overrides config)")
	threshold := flag.Int("threshold", -1, "unique terms per batch, 0 keeps everything in memory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Indexer.DataDir = *dataDir
	}
	if *threshold >= 0 {
		cfg.Indexer.FlushThreshold = *threshold
	}
	cfg.Indexer.ReadOnly = false

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, *docsDir); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, docsDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	var catalog consumer.Catalog
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to catalog: %w", err)
		}
		defer pg.Close()
		catalog = pg
		slog.Info("document catalog connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	var publisher consumer.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		publisher = producer
	}

	engine, err := indexer.NewEngine(cfg.Indexer,
		indexer.WithMetrics(m),
		indexer.WithCompactionHook(consumer.CompactionNotifier(publisher, catalog)),
	)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	slog.Info("index opened",
		"data_dir", cfg.Indexer.DataDir,
		"table_size", cfg.Indexer.TableSize,
		"flush_threshold", cfg.Indexer.FlushThreshold,
		"next_doc_id", engine.NextDocID(),
	)
	ix := indexer.NewIndexer(engine, tokenizer.New(tokenizer.DefaultOptions()), engine.NextDocID())

	var workErr error
	switch {
	case docsDir != "":
		start := time.Now()
		n, err := ix.IndexFiles(ctx, docsDir)
		workErr = err
		slog.Info("directory indexed", "root", docsDir, "documents", n, "duration", time.Since(start))
	case cfg.Kafka.Enabled:
		workErr = consume(ctx, cfg, engine, ix, catalog)
	default:
		workErr = errors.New("nothing to index: pass -d or enable kafka")
	}

	slog.Info("draining pending segments before shutdown", "pending", engine.Stats().Pending)
	cleanupErr := engine.Cleanup(context.Background())
	if errors.Is(workErr, context.Canceled) {
		workErr = nil
	}
	return errors.Join(workErr, cleanupErr)
}

// consume indexes ingest events until ctx is cancelled or the compaction
// daemon fails.
func consume(ctx context.Context, cfg *config.Config, engine *indexer.Engine, ix *indexer.Indexer, catalog consumer.Catalog) error {
	c := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, consumer.HandleMessage(ix, catalog))
	slog.Info("consuming ingest events",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Start(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Indexer.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := engine.Err(); err != nil {
					return fmt.Errorf("compaction stopped: %w", err)
				}
			}
		}
	})
	return g.Wait()
}
