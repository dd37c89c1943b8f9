package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

type fakeIngester struct {
	resp *ingestion.IngestResponse
	err  error
	got  *ingestion.IngestRequest
}

func (f *fakeIngester) Ingest(_ context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	f.got = req
	return f.resp, f.err
}

func serve(t *testing.T, ing Ingester, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(ing).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(body)))
	return rec
}

func TestIngestAccepted(t *testing.T) {
	ing := &fakeIngester{resp: &ingestion.IngestResponse{DocumentID: "7", Status: "PENDING"}}
	rec := serve(t, ing, `{"title":"Notes","body":"cold air","idempotency_key":"k"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var got ingestion.IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(*ing.resp, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if ing.got.IdempotencyKey != "k" {
		t.Errorf("idempotency key not passed through: %+v", ing.got)
	}
}

func TestIngestDuplicateIsOK(t *testing.T) {
	ing := &fakeIngester{resp: &ingestion.IngestResponse{DocumentID: "7", Status: "INDEXED", Duplicate: true}}
	rec := serve(t, ing, `{"title":"Notes","body":"cold air","idempotency_key":"k"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"title":`},
		{"missing fields", `{"title":"","body":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{}
			rec := serve(t, ing, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if ing.got != nil {
				t.Error("ingester called for invalid request")
			}
		})
	}
}

func TestIngestValidationFields(t *testing.T) {
	rec := serve(t, &fakeIngester{}, `{"title":"","body":"x"}`)
	var got struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Fields["title"]; !ok || len(got.Fields) != 1 {
		t.Errorf("fields = %v, want only title", got.Fields)
	}
}

func TestIngestErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"conflict", apperrors.New(apperrors.ErrIdempotencyConflict, http.StatusConflict, "key already used"), http.StatusConflict, "key already used"},
		{"internal", errors.New("dial tcp: refused"), http.StatusInternalServerError, "ingestion failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeIngester{err: tt.err}, `{"title":"t","body":"b"}`)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			var body map[string]string
			json.NewDecoder(rec.Body).Decode(&body)
			if body["error"] != tt.message {
				t.Errorf("error = %q, want %q", body["error"], tt.message)
			}
		})
	}
}
