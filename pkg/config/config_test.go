package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Indexer.TableSize != 611953 {
		t.Errorf("TableSize = %d, want 611953", cfg.Indexer.TableSize)
	}
	if cfg.Indexer.FlushThreshold != 150000 {
		t.Errorf("FlushThreshold = %d, want 150000", cfg.Indexer.FlushThreshold)
	}
	if cfg.Kafka.Topics.IndexComplete != "index.complete" {
		t.Errorf("IndexComplete topic = %q", cfg.Kafka.Topics.IndexComplete)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	yaml := `
indexer:
  dataDir: /var/lib/index
  tableSize: 1024
  flushThreshold: 16
  pollInterval: 250ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SP_INDEXER_FLUSH_THRESHOLD", "32")
	t.Setenv("SP_LOGGING_FORMAT", "text")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Indexer.DataDir != "/var/lib/index" {
		t.Errorf("DataDir = %q", cfg.Indexer.DataDir)
	}
	if cfg.Indexer.TableSize != 1024 {
		t.Errorf("TableSize = %d", cfg.Indexer.TableSize)
	}
	if cfg.Indexer.FlushThreshold != 32 {
		t.Errorf("FlushThreshold = %d, want env override 32", cfg.Indexer.FlushThreshold)
	}
	if cfg.Indexer.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Indexer.PollInterval)
	}
	if cfg.Indexer.SwapAttempts != 8 {
		t.Errorf("SwapAttempts default lost, got %d", cfg.Indexer.SwapAttempts)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultIndexerConfig(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.TableSize = 10
	cfg.FlushThreshold = 11
	if err := cfg.Validate(); err == nil {
		t.Error("expected threshold larger than table to be rejected")
	}
	cfg.FlushThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative threshold to be rejected")
	}
}
