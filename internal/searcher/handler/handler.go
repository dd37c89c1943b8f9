// Package handler serves the index's read surface over HTTP: postings
// lookups, document metadata, engine statistics and cache control.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/middleware"
)

// Index is the part of the engine the handler reads from.
type Index interface {
	GetPostings(token string) (*index.PostingsList, error)
	DocInfo(docID int) (index.DocInfo, bool)
	Stats() indexer.Stats
}

// PostingsCache is satisfied by *cache.PostingsCache.
type PostingsCache interface {
	GetOrCompute(ctx context.Context, token string, compute cache.ComputeFunc) ([]index.PostingsEntry, bool, error)
	Invalidate(ctx context.Context) error
	Stats() (hits, misses int64)
}

// PostingsResponse is the body of a postings lookup.
type PostingsResponse struct {
	Token     string                `json:"token"`
	Found     bool                  `json:"found"`
	DocCount  int                   `json:"doc_count"`
	Postings  []index.PostingsEntry `json:"postings"`
	CacheHit  bool                  `json:"cache_hit"`
	LatencyMs int64                 `json:"latency_ms"`
}

// DocumentResponse is the body of a document lookup.
type DocumentResponse struct {
	DocID  int    `json:"doc_id"`
	Path   string `json:"path"`
	Length int    `json:"length"`
}

type Handler struct {
	index     Index
	cache     PostingsCache
	tokenizer *tokenizer.Tokenizer
	logger    *slog.Logger
}

// New builds a handler. postingsCache may be nil, in which case every
// lookup reads the index. Query tokens are normalized with tok unless the
// request asks for raw=true.
func New(idx Index, postingsCache PostingsCache, tok *tokenizer.Tokenizer) *Handler {
	return &Handler{
		index:     idx,
		cache:     postingsCache,
		tokenizer: tok,
		logger:    slog.Default().With("component", "index-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/postings", h.Postings)
	mux.HandleFunc("GET /api/v1/docs/{id}", h.Document)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Postings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	raw := r.URL.Query().Get("token")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'token' is required")
		return
	}
	token := raw
	if h.tokenizer != nil && r.URL.Query().Get("raw") != "true" {
		token = h.tokenizer.Normalize(raw)
		if token == "" {
			h.writeJSON(w, http.StatusOK, PostingsResponse{Token: raw, Postings: []index.PostingsEntry{}})
			return
		}
	}

	compute := func() (*index.PostingsList, error) {
		return h.index.GetPostings(token)
	}
	var entries []index.PostingsEntry
	var hit bool
	var err error
	if h.cache != nil {
		entries, hit, err = h.cache.GetOrCompute(ctx, token, compute)
	} else {
		var pl *index.PostingsList
		if pl, err = compute(); err == nil && pl != nil {
			entries = pl.Entries()
		}
	}
	if err != nil {
		log.Error("postings lookup failed", "token", token, "error", err)
		h.writeAppError(w, err)
		return
	}

	resp := PostingsResponse{
		Token:     token,
		Found:     len(entries) > 0,
		DocCount:  len(entries),
		Postings:  entries,
		CacheHit:  hit,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.Postings == nil {
		resp.Postings = []index.PostingsEntry{}
	}
	log.Debug("postings lookup",
		"token", token,
		"docs", resp.DocCount,
		"cache_hit", hit,
		"request_id", middleware.GetRequestID(ctx),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		h.writeAppError(w, fmt.Errorf("%w: document id must be a non-negative integer", apperrors.ErrInvalidInput))
		return
	}
	info, ok := h.index.DocInfo(id)
	if !ok {
		h.writeAppError(w, apperrors.Newf(apperrors.ErrDocumentMissing, http.StatusNotFound, "document %d", id))
		return
	}
	h.writeJSON(w, http.StatusOK, DocumentResponse{DocID: info.DocID, Path: info.Path, Length: info.Length})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if status == http.StatusInternalServerError && !errors.As(err, &appErr) {
		msg = "internal error"
	}
	h.writeError(w, status, msg)
}
