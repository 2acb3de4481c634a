package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
)

const (
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHeader = "application/rss+xml, application/xml, application/atom+xml, application/json, text/xml;q=0.9, */*;q=0.8"

	maxFeedBytes = 10 << 20
)

// Fetcher downloads feed documents and turns their items into entries.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

var _ ports.FeedFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; a nil client gets a 30s timeout.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch returns the feed's entries in document order. Any failure is reported
// as a *domain.FetchError and yields no entries.
func (f *Fetcher) Fetch(ctx context.Context, source domain.FeedSource) ([]domain.Entry, error) {
	if err := source.Validate(); err != nil {
		return nil, &domain.FetchError{FeedURL: source.URL, Err: err}
	}

	parsed, err := f.fetchDocument(ctx, source.URL)
	if err != nil {
		return nil, &domain.FetchError{FeedURL: source.URL, Err: err}
	}

	entries := make([]domain.Entry, 0, len(parsed.Items))
	seen := map[string]struct{}{}
	for i, item := range parsed.Items {
		entry, err := toEntry(source.URL, item)
		if err != nil {
			f.warn("skip malformed item", "feed", source.URL, "index", i, "error", err)
			continue
		}
		if _, ok := seen[entry.ID]; ok {
			f.debug("skip repeated item", "feed", source.URL, "entry", entry.ID)
			continue
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}

	f.debug("feed fetched", "feed", source.URL, "title", parsed.Title, "items", len(parsed.Items), "entries", len(entries))
	return entries, nil
}

func (f *Fetcher) fetchDocument(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return parsed, nil
}

func toEntry(feedURL string, item *gofeed.Item) (domain.Entry, error) {
	if item == nil {
		return domain.Entry{}, fmt.Errorf("empty item")
	}

	link := strings.TrimSpace(item.Link)
	if link == "" {
		for _, candidate := range item.Links {
			if candidate = strings.TrimSpace(candidate); candidate != "" {
				link = candidate
				break
			}
		}
	}
	if link == "" {
		return domain.Entry{}, fmt.Errorf("item %q has no link", item.Title)
	}

	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = link
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	return domain.Entry{
		FeedURL:     feedURL,
		ID:          id,
		Title:       PlainText(item.Title),
		Summary:     PlainText(summary),
		Link:        link,
		PublishedAt: publishedAt(item),
	}, nil
}

func publishedAt(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

// PlainText strips markup from an HTML fragment and collapses whitespace.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (f *Fetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
