package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/usecase"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"
	contentTypeText   = "text/plain; charset=utf-8"
)

// Runner triggers one pipeline run.
type Runner interface {
	RunOnce(ctx context.Context) (*domain.RunSummary, error)
}

// Deps wires the run trigger and metrics into the HTTP API.
type Deps struct {
	Runner  Runner
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter builds the serve-mode API: POST /run, GET /healthz and GET /metrics.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{runner: deps.Runner, logger: logger.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/run", h.handleRun)
	r.Get("/healthz", handleHealthCheck)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}

type handler struct {
	runner Runner
	logger *slog.Logger
}

type feedResponse struct {
	FeedURL       string `json:"feed_url"`
	State         string `json:"state"`
	Fetched       int    `json:"fetched"`
	Marked        int    `json:"marked"`
	FailedBatches int    `json:"failed_batches"`
	FailedEntries int    `json:"failed_entries"`
	Deferred      int    `json:"deferred"`
	Error         string `json:"error,omitempty"`
}

type runResponse struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Succeeded     bool           `json:"succeeded"`
	Partial       bool           `json:"partial"`
	Aborted       bool           `json:"aborted"`
	Processed     int            `json:"processed"`
	Persisted     int            `json:"persisted"`
	AlreadySeen   int            `json:"already_seen"`
	Expired       int            `json:"expired"`
	Routed        map[string]int `json:"routed"`
	FailedFeeds   []string       `json:"failed_feeds"`
	FailedBatches int            `json:"failed_batches"`
	FailedEntries int            `json:"failed_entries"`
	Feeds         []feedResponse `json:"feeds"`
	Error         string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleRun executes a run synchronously. The run is detached from the
// request context so a disconnecting client does not stop it.
func (h *handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "runner not configured"})
		return
	}

	summary, err := h.runner.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, usecase.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil && summary == nil:
		h.logger.Error("run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := toRunResponse(summary)
	status := http.StatusOK
	if err != nil {
		h.logger.Error("run aborted", "run_id", summary.RunID, "error", err)
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func toRunResponse(summary *domain.RunSummary) runResponse {
	resp := runResponse{
		RunID:         summary.RunID,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
		Succeeded:     summary.Succeeded(),
		Partial:       summary.Partial,
		Aborted:       summary.Aborted,
		Processed:     summary.Processed,
		Persisted:     summary.Persisted,
		AlreadySeen:   summary.AlreadySeen,
		Expired:       summary.Expired,
		Routed:        make(map[string]int, len(domain.Collections)),
		FailedFeeds:   make([]string, 0, len(summary.FailedFeeds)),
		FailedBatches: len(summary.FailedBatches),
		FailedEntries: len(summary.FailedEntries),
		Feeds:         make([]feedResponse, 0, len(summary.Feeds)),
	}

	for _, collection := range domain.Collections {
		resp.Routed[string(collection)] = summary.Routed[collection]
	}
	for _, feed := range summary.FailedFeeds {
		resp.FailedFeeds = append(resp.FailedFeeds, feed.FeedURL)
	}
	for _, feed := range summary.Feeds {
		fr := feedResponse{
			FeedURL:       feed.FeedURL,
			State:         string(feed.State),
			Fetched:       feed.Fetched,
			Marked:        feed.Marked,
			FailedBatches: feed.FailedBatches,
			FailedEntries: feed.FailedEntries,
			Deferred:      feed.Deferred,
		}
		if feed.Err != nil {
			fr.Error = feed.Err.Error()
		}
		resp.Feeds = append(resp.Feeds, fr)
	}

	return resp
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(headerContentType, contentTypeText)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
