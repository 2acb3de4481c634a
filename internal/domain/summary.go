package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FeedState enumerates the per-feed pipeline stages.
type FeedState string

const (
	FeedFetching    FeedState = "fetching"
	FeedFiltering   FeedState = "filtering"
	FeedBatching    FeedState = "batching"
	FeedClassifying FeedState = "classifying"
	FeedRouting     FeedState = "routing"
	FeedMarking     FeedState = "marking"
	FeedDone        FeedState = "done"
	FeedFailed      FeedState = "feed_failed"

	// FeedDeferred marks a feed the run stopped before reaching.
	FeedDeferred FeedState = "deferred"
)

// FeedReport is the outcome of one feed within a run.
type FeedReport struct {
	FeedURL       string
	State         FeedState
	Fetched       int
	AlreadySeen   int
	Expired       int
	Undated       int
	Classified    int
	Marked        int
	FailedBatches int
	FailedEntries int
	Deferred      int
	Err           error
}

// BatchFailure describes a batch whose classification exhausted its retries.
type BatchFailure struct {
	FeedURL  string
	Batch    int
	EntryIDs []string
	Err      error
}

// EntryFailure describes an entry whose routing failed.
type EntryFailure struct {
	FeedURL string
	EntryID string
	Err     error
}

// RunSummary is returned by every run, including partially failed ones.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Processed   int
	Routed      map[Collection]int
	Persisted   int
	AlreadySeen int
	Expired     int

	Feeds         []FeedReport
	FailedFeeds   []FeedReport
	FailedBatches []BatchFailure
	FailedEntries []EntryFailure

	// Partial is set when the deadline or a shutdown stopped new batches from starting.
	Partial bool

	// Aborted is set when the state store failed and the run stopped early.
	Aborted bool
}

// NewRunSummary returns an empty summary with initialised counters.
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: startedAt,
		Routed:    map[Collection]int{},
	}
}

// Succeeded reports whether the run finished without any recorded failure.
func (s *RunSummary) Succeeded() bool {
	return !s.Aborted && !s.Partial && len(s.FailedFeeds) == 0 && len(s.FailedBatches) == 0 && len(s.FailedEntries) == 0
}

// String renders a short human-readable digest of the run.
func (s *RunSummary) String() string {
	var b strings.Builder

	status := "ok"
	switch {
	case s.Aborted:
		status = "aborted"
	case s.Partial:
		status = "partial"
	case !s.Succeeded():
		status = "completed with failures"
	}

	fmt.Fprintf(&b, "run %s: %s in %s\n", s.RunID, status, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "processed: %d (already seen %d, expired %d)\n", s.Processed, s.AlreadySeen, s.Expired)

	for _, collection := range Collections {
		fmt.Fprintf(&b, "%s: %d\n", collection, s.Routed[collection])
	}

	if len(s.FailedFeeds) > 0 {
		urls := make([]string, 0, len(s.FailedFeeds))
		for _, feed := range s.FailedFeeds {
			urls = append(urls, feed.FeedURL)
		}
		sort.Strings(urls)
		fmt.Fprintf(&b, "failed feeds: %s\n", strings.Join(urls, ", "))
	}
	if len(s.FailedBatches) > 0 {
		fmt.Fprintf(&b, "failed batches: %d\n", len(s.FailedBatches))
	}
	if len(s.FailedEntries) > 0 {
		fmt.Fprintf(&b, "failed entries: %d\n", len(s.FailedEntries))
	}

	return strings.TrimRight(b.String(), "\n")
}
