//go:build e2e

// Package e2e drives a running deployment: ingestion -> Kafka -> indexer ->
// compaction -> searcher, with real Kafka, PostgreSQL and Redis.
//
// Run with:
//
//	go test -v -tags=e2e -timeout=120s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

type e2eConfig struct {
	IngestionURL string
	SearcherURL  string
	Wait         time.Duration
}

func loadConfig() e2eConfig {
	wait, err := time.ParseDuration(envOrDefault("E2E_INDEX_WAIT", "30s"))
	if err != nil {
		wait = 30 * time.Second
	}
	return e2eConfig{
		IngestionURL: envOrDefault("E2E_INGESTION_URL", "http://localhost:8081"),
		SearcherURL:  envOrDefault("E2E_SEARCHER_URL", "http://localhost:8080"),
		Wait:         wait,
	}
}

func TestServicesLive(t *testing.T) {
	cfg := loadConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	for name, u := range map[string]string{
		"searcher":  cfg.SearcherURL + "/health/live",
		"ingestion": cfg.IngestionURL + "/health/live",
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := client.Get(u)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("status %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestIngestThenLookup ingests a document with a unique word and polls the
// searcher until the word's postings name the document.
func TestIngestThenLookup(t *testing.T) {
	cfg := loadConfig()
	client := &http.Client{Timeout: 10 * time.Second}
	if _, err := client.Get(cfg.IngestionURL + "/health/live"); err != nil {
		t.Skipf("ingestion service unavailable: %v", err)
	}

	word := fmt.Sprintf("zq%dx", time.Now().UnixNano())
	key := "e2e-" + word
	payload := fmt.Sprintf(`{"title":"marker","body":"the marker %s appears here","idempotency_key":%q}`, word, key)

	resp, err := client.Post(cfg.IngestionURL+"/api/v1/documents", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status %d: %s", resp.StatusCode, body)
	}

	// Same key again is answered from the catalog.
	resp, err = client.Post(cfg.IngestionURL+"/api/v1/documents", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("repeat ingest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat ingest status %d, want 200", resp.StatusCode)
	}

	deadline := time.Now().Add(cfg.Wait)
	for time.Now().Before(deadline) {
		time.Sleep(time.Second)
		r, err := client.Get(cfg.SearcherURL + "/api/v1/postings?raw=true&token=" + url.QueryEscape(word))
		if err != nil {
			continue
		}
		var got struct {
			Found    bool `json:"found"`
			DocCount int  `json:"doc_count"`
		}
		json.NewDecoder(r.Body).Decode(&got)
		r.Body.Close()
		if got.Found {
			if got.DocCount != 1 {
				t.Errorf("doc_count = %d, want 1", got.DocCount)
			}
			return
		}
	}
	t.Errorf("token %s not visible after %s", word, cfg.Wait)
}

func TestCacheStats(t *testing.T) {
	cfg := loadConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(cfg.SearcherURL + "/api/v1/cache/stats")
	if err != nil {
		t.Skipf("searcher unavailable: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	if stats["status"] == "disabled" {
		t.Skip("postings cache disabled")
	}
	for _, field := range []string{"hits", "misses", "hit_rate"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("missing field %s in %v", field, stats)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
