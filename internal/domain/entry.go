package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FeedMode controls which local heuristics apply to a feed's entries.
type FeedMode string

const (
	FeedModeNormal  FeedMode = "normal"
	FeedModeLLMOnly FeedMode = "llm-only"
)

// FeedSource is a configured feed; immutable for the duration of a run.
type FeedSource struct {
	URL  string
	Mode FeedMode
}

// Validate accepts absolute http(s) URLs only.
func (s FeedSource) Validate() error {
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid feed url %q: %w", s.URL, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid feed url %q: want absolute http(s) url", s.URL)
	}
	return nil
}

// Entry is a single article parsed from a feed document.
type Entry struct {
	FeedURL     string
	ID          string
	Title       string
	Summary     string
	Link        string
	PublishedAt time.Time
}

// Dated reports whether the feed supplied a publication date.
func (e Entry) Dated() bool {
	return !e.PublishedAt.IsZero()
}

// ProcessedMarker records that an entry must not be processed again.
type ProcessedMarker struct {
	FeedURL     string
	EntryID     string
	ProcessedAt time.Time
}

// Persona is a named set of reader interests used as classification input.
type Persona struct {
	Name      string
	Interests []string
}

// Collection is the routing target of a verdict.
type Collection string

const (
	CollectionRead  Collection = "read"
	CollectionMaybe Collection = "maybe"
	CollectionSkip  Collection = "skip"
)

// Collections lists every valid routing target in prompt order.
var Collections = []Collection{CollectionRead, CollectionMaybe, CollectionSkip}

// ParseCollection maps a model-supplied value onto a known collection.
func ParseCollection(value string) (Collection, bool) {
	switch Collection(strings.ToLower(strings.TrimSpace(value))) {
	case CollectionRead:
		return CollectionRead, true
	case CollectionMaybe:
		return CollectionMaybe, true
	case CollectionSkip:
		return CollectionSkip, true
	}
	return "", false
}

// Verdict is the classification outcome for one entry.
type Verdict struct {
	EntryID    string
	Collection Collection
	Rationale  string
}

// RoutingOutcome captures what happened when a verdict was routed.
type RoutingOutcome struct {
	EntryID    string
	Collection Collection
	Persisted  bool
}
