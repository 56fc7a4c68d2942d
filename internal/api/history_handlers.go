package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/storage/sqlite"
)

const (
	defaultCrawlLimit = 50
	maxCrawlLimit     = 500
	defaultPageLimit  = 100
	maxPageLimit      = 1000
	historyTimeout    = 3 * time.Second
)

// HistoryRepository reads persisted crawl artifacts.
type HistoryRepository interface {
	Get(ctx context.Context, store sqlite.StoreName, key string) (sqlite.Record, error)
	GetAll(ctx context.Context, store sqlite.StoreName, filter sqlite.IndexFilter) ([]sqlite.Record, error)
}

// HistoryHandler exposes read-only crawl history endpoints.
type HistoryHandler struct {
	repo    HistoryRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo HistoryRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListCrawls handles GET /v1/crawls?kind=&since=&limit=&offset=. It returns
// {"crawls": [...]} newest first, 400 for invalid filters, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *HistoryHandler) ListCrawls(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCrawlLimit, maxCrawlLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter sqlite.IndexFilter
	if since := strings.TrimSpace(r.URL.Query().Get("since")); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		filter.Since = ts
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.GetAll(ctx, sqlite.Crawls, filter)
	if err != nil {
		h.logger.Error("list crawls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawls")
		return
	}
	crawls := make([]crawler.CrawlRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		var rec crawler.CrawlRecord
		if err := json.Unmarshal(records[i].Value, &rec); err != nil {
			h.logger.Warn("skipping unreadable crawl record", zap.String("key", records[i].Key), zap.Error(err))
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		crawls = append(crawls, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crawls": paginate(crawls, limit, offset),
	})
}

// GetCrawl handles GET /v1/crawls/{job_id}. It returns {"crawl": {...}} on
// success, 404 when the repository reports sqlite.ErrNotFound, 503 if the
// repo is not initialized, or 500 otherwise.
func (h *HistoryHandler) GetCrawl(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	record, err := h.repo.Get(ctx, sqlite.Crawls, jobID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		h.logger.Error("get crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	var crawl crawler.CrawlRecord
	if err := json.Unmarshal(record.Value, &crawl); err != nil {
		h.logger.Error("decode crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": crawl})
}

// ListCrawlPages handles GET /v1/crawls/{job_id}/pages?limit=&offset=. It
// returns {"pages": [...]} in capture order.
func (h *HistoryHandler) ListCrawlPages(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.GetAll(ctx, sqlite.Pages, sqlite.IndexFilter{CrawlID: jobID})
	if err != nil {
		h.logger.Error("list crawl pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl pages")
		return
	}
	pages := make([]pageDTO, 0, len(records))
	for _, rec := range records {
		var page crawler.Page
		if err := json.Unmarshal(rec.Value, &page); err != nil {
			h.logger.Warn("skipping unreadable page record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		pages = append(pages, toPageDTO(page))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": paginate(pages, limit, offset),
	})
}

func parseJobID(r *http.Request) (string, error) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseKind(input string) (crawler.JobKind, error) {
	switch kind := crawler.JobKind(strings.ToLower(strings.TrimSpace(input))); kind {
	case "":
		return "", nil
	case crawler.JobKindArchive, crawler.JobKindAnalyze, crawler.JobKindSelected:
		return kind, nil
	default:
		return "", errors.New("invalid kind")
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func toPageDTO(page crawler.Page) pageDTO {
	return pageDTO{
		URL:       page.URL,
		Title:     page.Title,
		Depth:     page.Depth,
		Size:      page.Size,
		Path:      page.Path,
		Timestamp: page.Timestamp,
	}
}

type pageDTO struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Depth     int       `json:"depth"`
	Size      int64     `json:"size"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
