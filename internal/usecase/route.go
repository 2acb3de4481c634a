package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
	"RSSBouncer/internal/retry"
)

// RouterDeps wires the bookmark client and collection mapping into the router.
type RouterDeps struct {
	Bookmarks   ports.BookmarkClient
	Collections map[domain.Collection]int64
	SaveSkipped bool
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Router persists verdicts as bookmarks in their target collection.
type Router struct {
	bookmarks   ports.BookmarkClient
	collections map[domain.Collection]int64
	saveSkipped bool
	policy      retry.Policy
	logger      *slog.Logger
}

// NewRouter constructs the router/persister.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	collections := make(map[domain.Collection]int64, len(deps.Collections))
	for k, v := range deps.Collections {
		collections[k] = v
	}

	policy := deps.Retry
	policy.Retryable = domain.IsTransient

	return &Router{
		bookmarks:   deps.Bookmarks,
		collections: collections,
		saveSkipped: deps.SaveSkipped,
		policy:      policy,
		logger:      logger.With("component", "router"),
	}
}

// Route saves the entry into the verdict's collection. A skip verdict with
// save-skipped disabled succeeds without a call.
func (r *Router) Route(ctx context.Context, entry domain.Entry, verdict domain.Verdict) (domain.RoutingOutcome, error) {
	outcome := domain.RoutingOutcome{EntryID: entry.ID, Collection: verdict.Collection}

	if verdict.Collection == domain.CollectionSkip && !r.saveSkipped {
		return outcome, nil
	}

	collectionID := r.collections[verdict.Collection]
	if collectionID == 0 {
		return outcome, domain.NewPermanentError(fmt.Errorf("no collection id configured for %q", verdict.Collection))
	}
	if r.bookmarks == nil {
		return outcome, domain.NewPermanentError(errors.New("bookmark client is not configured"))
	}

	bookmark := ports.Bookmark{
		CollectionID: collectionID,
		Link:         entry.Link,
		Title:        entry.Title,
		Note:         verdict.Rationale,
		Created:      entry.PublishedAt,
	}

	policy := r.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Warn("bookmark attempt failed", "entry", entry.ID, "attempt", attempt, "retry_in", delay, "error", err)
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		return r.bookmarks.Save(ctx, bookmark)
	})
	if err != nil {
		return outcome, fmt.Errorf("save bookmark after %d attempt(s): %w", attempts, err)
	}

	outcome.Persisted = true
	return outcome, nil
}
