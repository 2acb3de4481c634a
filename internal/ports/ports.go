package ports

import (
	"context"
	"time"

	"RSSBouncer/internal/domain"
)

// FeedFetcher retrieves and parses one feed document.
type FeedFetcher interface {
	Fetch(ctx context.Context, source domain.FeedSource) ([]domain.Entry, error)
}

// StateStore persists processed markers for deduplication across runs.
type StateStore interface {
	Exists(ctx context.Context, feedURL, entryID string) (bool, error)
	Mark(ctx context.Context, marker domain.ProcessedMarker) error
}

// ChatMessage is one message of a chat-completion conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest asks the model for a JSON object answer.
type ChatRequest struct {
	Messages []ChatMessage
}

// ChatClient sends prompts to an LLM API and returns the assistant content.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Bookmark is the payload persisted into a bookmark collection.
type Bookmark struct {
	CollectionID int64
	Link         string
	Title        string
	Note         string
	Created      time.Time
}

// BookmarkClient saves bookmarks into a collection.
type BookmarkClient interface {
	Save(ctx context.Context, bookmark Bookmark) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// SecretProvider resolves opaque credentials by name.
type SecretProvider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
