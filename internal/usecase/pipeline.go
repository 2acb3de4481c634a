package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
)

// ErrRunInProgress is returned when a run is requested while another one owns the store.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunObserver receives every finished run summary (metrics, audit).
type RunObserver interface {
	ObserveRun(summary *domain.RunSummary)
}

// PipelineDeps wires all driven adapters and run settings into the pipeline.
type PipelineDeps struct {
	Fetcher    ports.FeedFetcher
	Store      ports.StateStore
	Classifier *Classifier
	Router     *Router
	Notifier   ports.Notifier
	Observer   RunObserver
	Logger     *slog.Logger

	Feeds      []domain.FeedSource
	BatchSize  int
	MaxAge     time.Duration
	Workers    int
	RunTimeout time.Duration

	Now      func() time.Time
	NewRunID func() string
}

// Pipeline implements the ingest, dedup, classify, route and mark workflow.
type Pipeline struct {
	fetcher    ports.FeedFetcher
	store      ports.StateStore
	classifier *Classifier
	router     *Router
	notifier   ports.Notifier
	observer   RunObserver
	logger     *slog.Logger

	feeds      []domain.FeedSource
	batchSize  int
	maxAge     time.Duration
	workers    int
	runTimeout time.Duration

	now      func() time.Time
	newRunID func() string

	running sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		classifier: deps.Classifier,
		router:     deps.Router,
		notifier:   deps.Notifier,
		observer:   deps.Observer,
		logger:     deps.Logger,
		feeds:      append([]domain.FeedSource(nil), deps.Feeds...),
		batchSize:  deps.BatchSize,
		maxAge:     deps.MaxAge,
		workers:    deps.Workers,
		runTimeout: deps.RunTimeout,
		now:        deps.Now,
		newRunID:   deps.NewRunID,
	}

	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.batchSize <= 0 {
		p.batchSize = 1
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}

	return p
}

type feedResult struct {
	report    domain.FeedReport
	routed    map[domain.Collection]int
	persisted int
	batches   []domain.BatchFailure
	entries   []domain.EntryFailure
}

// RunOnce processes every configured feed once and returns the run summary.
// Per-feed, per-batch and per-entry failures are recorded in the summary; the
// only error returned alongside it is a *domain.StoreUnavailableError.
//
// The run deadline and ctx cancellation stop new batches from starting.
// Batches already in flight finish their I/O.
func (p *Pipeline) RunOnce(ctx context.Context) (*domain.RunSummary, error) {
	if p.fetcher == nil || p.store == nil || p.classifier == nil || p.router == nil {
		return nil, errors.New("pipeline is not fully wired")
	}
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	summary := domain.NewRunSummary(p.newRunID(), p.now())
	logger := p.logger.With("run_id", summary.RunID)
	logger.Info("run started", "feeds", len(p.feeds), "batch_size", p.batchSize, "workers", p.workers)

	stop, cancel := p.withDeadline(ctx)
	defer cancel()
	ioCtx := context.WithoutCancel(ctx)

	cutoff := summary.StartedAt.Add(-p.maxAge)
	results := make([]feedResult, len(p.feeds))

	g, gctx := errgroup.WithContext(stop)
	g.SetLimit(p.workers)
	for i, source := range p.feeds {
		g.Go(func() error {
			res, err := p.processFeed(gctx, ioCtx, source, cutoff, logger)
			results[i] = res
			return err
		})
	}
	runErr := g.Wait()

	for _, res := range results {
		mergeResult(summary, res)
	}
	summary.FinishedAt = p.now()
	summary.Aborted = runErr != nil

	if runErr != nil {
		logger.Error("run aborted", "error", runErr)
	} else {
		logger.Info("run finished",
			"processed", summary.Processed,
			"persisted", summary.Persisted,
			"already_seen", summary.AlreadySeen,
			"expired", summary.Expired,
			"failed_feeds", len(summary.FailedFeeds),
			"failed_batches", len(summary.FailedBatches),
			"failed_entries", len(summary.FailedEntries),
			"partial", summary.Partial,
		)
	}

	if p.observer != nil {
		p.observer.ObserveRun(summary)
	}
	p.notify(ioCtx, summary, logger)

	if runErr != nil {
		return summary, fmt.Errorf("run %s: %w", summary.RunID, runErr)
	}
	return summary, nil
}

func (p *Pipeline) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.runTimeout > 0 {
		return context.WithTimeout(ctx, p.runTimeout)
	}
	return context.WithCancel(ctx)
}

// processFeed walks one feed through its states. stop signals that no new
// batch may start; ioCtx carries the external calls.
func (p *Pipeline) processFeed(stop, ioCtx context.Context, source domain.FeedSource, cutoff time.Time, logger *slog.Logger) (feedResult, error) {
	res := feedResult{
		report: domain.FeedReport{FeedURL: source.URL},
		routed: map[domain.Collection]int{},
	}
	logger = logger.With("feed", source.URL)

	if stop.Err() != nil {
		res.report.State = domain.FeedDeferred
		logger.Warn("feed deferred, run is stopping")
		return res, nil
	}

	res.report.State = domain.FeedFetching
	entries, err := p.fetcher.Fetch(ioCtx, source)
	if err != nil {
		res.report.State = domain.FeedFailed
		res.report.Err = err
		logger.Error("feed failed", "error", err)
		return res, nil
	}
	res.report.Fetched = len(entries)

	res.report.State = domain.FeedFiltering
	candidates, err := p.filter(ioCtx, source, entries, cutoff, &res.report)
	if err != nil {
		return failFeed(res, err, logger)
	}

	res.report.State = domain.FeedBatching
	batches := chunk(candidates, p.batchSize)
	logger.Debug("feed filtered",
		"fetched", res.report.Fetched,
		"already_seen", res.report.AlreadySeen,
		"expired", res.report.Expired,
		"undated", res.report.Undated,
		"batches", len(batches),
	)

	for i, batch := range batches {
		if stop.Err() != nil {
			for _, rest := range batches[i:] {
				res.report.Deferred += len(rest)
			}
			logger.Warn("run stopping, remaining batches deferred", "deferred_entries", res.report.Deferred)
			break
		}
		if err := p.processBatch(ioCtx, source, i+1, batch, &res, logger); err != nil {
			return failFeed(res, err, logger)
		}
	}

	res.report.State = domain.FeedDone
	logger.Info("feed done",
		"classified", res.report.Classified,
		"marked", res.report.Marked,
		"failed_batches", res.report.FailedBatches,
		"failed_entries", res.report.FailedEntries,
	)
	return res, nil
}

// failFeed records a store failure on the feed and hands it back to abort the run.
func failFeed(res feedResult, err error, logger *slog.Logger) (feedResult, error) {
	res.report.State = domain.FeedFailed
	res.report.Err = err
	logger.Error("feed aborted", "error", err)
	return res, err
}

// filter drops already-seen entries and marks the ones that are terminally
// skipped without classification: expired entries, and undated entries of
// normal feeds.
func (p *Pipeline) filter(ctx context.Context, source domain.FeedSource, entries []domain.Entry, cutoff time.Time, report *domain.FeedReport) ([]domain.Entry, error) {
	candidates := make([]domain.Entry, 0, len(entries))

	for _, entry := range entries {
		seen, err := p.store.Exists(ctx, source.URL, entry.ID)
		if err != nil {
			return nil, &domain.StoreUnavailableError{Op: "exists", Err: err}
		}
		if seen {
			report.AlreadySeen++
			continue
		}

		switch {
		case !entry.Dated() && source.Mode != domain.FeedModeLLMOnly:
			report.Undated++
		case entry.Dated() && entry.PublishedAt.Before(cutoff):
			report.Expired++
		default:
			candidates = append(candidates, entry)
			continue
		}

		if err := p.mark(ctx, source.URL, entry.ID); err != nil {
			return nil, err
		}
		report.Marked++
	}

	return candidates, nil
}

func (p *Pipeline) processBatch(ctx context.Context, source domain.FeedSource, n int, batch []domain.Entry, res *feedResult, logger *slog.Logger) error {
	res.report.State = domain.FeedClassifying
	verdicts, err := p.classifier.Classify(ctx, batch)
	if err != nil {
		ids := make([]string, len(batch))
		for i, entry := range batch {
			ids[i] = entry.ID
		}
		res.batches = append(res.batches, domain.BatchFailure{FeedURL: source.URL, Batch: n, EntryIDs: ids, Err: err})
		res.report.FailedBatches++
		logger.Error("batch failed", "batch", n, "entries", len(batch), "error", err)
		return nil
	}
	res.report.Classified += len(batch)

	for i, entry := range batch {
		verdict := verdicts[i]

		res.report.State = domain.FeedRouting
		outcome, err := p.router.Route(ctx, entry, verdict)
		if err != nil {
			res.entries = append(res.entries, domain.EntryFailure{FeedURL: source.URL, EntryID: entry.ID, Err: err})
			res.report.FailedEntries++
			logger.Error("routing failed", "entry", entry.ID, "collection", verdict.Collection, "error", err)
			continue
		}

		res.report.State = domain.FeedMarking
		if err := p.mark(ctx, source.URL, entry.ID); err != nil {
			return err
		}
		res.report.Marked++
		res.routed[outcome.Collection]++
		if outcome.Persisted {
			res.persisted++
		}

		logger.Debug("entry routed",
			"entry", entry.ID,
			"title", entry.Title,
			"collection", outcome.Collection,
			"persisted", outcome.Persisted,
			"reason", verdict.Rationale,
		)
	}

	return nil
}

func (p *Pipeline) mark(ctx context.Context, feedURL, entryID string) error {
	err := p.store.Mark(ctx, domain.ProcessedMarker{
		FeedURL:     feedURL,
		EntryID:     entryID,
		ProcessedAt: p.now(),
	})
	if err != nil {
		return &domain.StoreUnavailableError{Op: "mark", Err: err}
	}
	return nil
}

func (p *Pipeline) notify(ctx context.Context, summary *domain.RunSummary, logger *slog.Logger) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishDigest(ctx, summary.String()); err != nil {
		logger.Warn("publish digest", "error", err)
	}
}

func mergeResult(summary *domain.RunSummary, res feedResult) {
	report := res.report
	summary.Feeds = append(summary.Feeds, report)

	if report.State == domain.FeedFailed {
		summary.FailedFeeds = append(summary.FailedFeeds, report)
	}
	if report.State == domain.FeedDeferred || report.Deferred > 0 {
		summary.Partial = true
	}

	summary.Processed += report.Marked
	summary.AlreadySeen += report.AlreadySeen
	summary.Expired += report.Expired
	summary.Persisted += res.persisted
	for collection, n := range res.routed {
		summary.Routed[collection] += n
	}
	summary.FailedBatches = append(summary.FailedBatches, res.batches...)
	summary.FailedEntries = append(summary.FailedEntries, res.entries...)
}

func chunk(entries []domain.Entry, size int) [][]domain.Entry {
	if len(entries) == 0 {
		return nil
	}
	batches := make([][]domain.Entry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		batches = append(batches, entries[start:end])
	}
	return batches
}
