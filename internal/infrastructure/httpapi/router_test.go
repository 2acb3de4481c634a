package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/usecase"
)

type stubRunner struct {
	summary *domain.RunSummary
	err     error
}

func (s stubRunner) RunOnce(context.Context) (*domain.RunSummary, error) {
	return s.summary, s.err
}

func sampleSummary() *domain.RunSummary {
	started := time.Date(2026, time.October, 18, 8, 0, 0, 0, time.UTC)
	summary := domain.NewRunSummary("run-7", started)
	summary.FinishedAt = started.Add(time.Minute)
	summary.Processed = 3
	summary.Persisted = 2
	summary.Routed[domain.CollectionRead] = 2
	summary.Routed[domain.CollectionSkip] = 1
	failed := domain.FeedReport{FeedURL: "https://two.example/feed", State: domain.FeedFailed, Err: errors.New("status 502")}
	summary.Feeds = []domain.FeedReport{{FeedURL: "https://one.example/feed", State: domain.FeedDone, Marked: 3}, failed}
	summary.FailedFeeds = []domain.FeedReport{failed}
	return summary
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRunReturnsSummary(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(Deps{Runner: stubRunner{summary: sampleSummary()}}), http.MethodPost, "/run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get(headerContentType))

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-7", resp.RunID)
	assert.False(t, resp.Succeeded)
	assert.Equal(t, map[string]int{"read": 2, "maybe": 0, "skip": 1}, resp.Routed)
	assert.Equal(t, []string{"https://two.example/feed"}, resp.FailedFeeds)
	require.Len(t, resp.Feeds, 2)
	assert.Equal(t, "status 502", resp.Feeds[1].Error)
}

func TestRunConflictWhileBusy(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(Deps{Runner: stubRunner{err: usecase.ErrRunInProgress}}), http.MethodPost, "/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestRunAbortedByStore(t *testing.T) {
	t.Parallel()

	summary := sampleSummary()
	summary.Aborted = true
	storeErr := &domain.StoreUnavailableError{Op: "mark", Err: errors.New("disk full")}
	rec := do(t, NewRouter(Deps{Runner: stubRunner{summary: summary, err: fmt.Errorf("run run-7: %w", storeErr)}}), http.MethodPost, "/run")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-7", resp.RunID)
	assert.Contains(t, resp.Error, "state store unavailable")
	assert.True(t, resp.Aborted)
	assert.False(t, resp.Succeeded)
}

func TestRunWithoutRunner(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(Deps{}), http.MethodPost, "/run")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("rssbouncer_runs_total 1\n"))
	})
	router := NewRouter(Deps{Metrics: metrics})

	rec := do(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rssbouncer_runs_total")

	rec = do(t, router, http.MethodGet, "/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
