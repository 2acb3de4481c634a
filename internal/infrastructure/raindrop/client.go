package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"RSSBouncer/internal/config"
	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
)

const (
	maxExcerptChars = 10000
	maxTitleChars   = 1000
	maxBodySize     = 1 << 20
)

// Client saves bookmarks through the Raindrop.io REST API.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

var _ ports.BookmarkClient = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.RaindropConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: timeout},
	}
}

type raindropRequest struct {
	Link       string        `json:"link"`
	Title      string        `json:"title,omitempty"`
	Excerpt    string        `json:"excerpt,omitempty"`
	Created    string        `json:"created,omitempty"`
	Collection collectionRef `json:"collection"`
}

type collectionRef struct {
	ID int64 `json:"$id"`
}

type raindropResponse struct {
	Result       bool   `json:"result"`
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

// Save creates one bookmark. Auth, validation and unknown-collection failures
// are permanent; network errors, 429 and 5xx are transient.
func (c *Client) Save(ctx context.Context, bookmark ports.Bookmark) error {
	if c.token == "" || c.endpoint == "" {
		return domain.NewPermanentError(errors.New("raindrop client misconfigured"))
	}
	if bookmark.CollectionID == 0 {
		return domain.NewPermanentError(errors.New("raindrop collection id is not configured"))
	}
	if bookmark.Link == "" {
		return domain.NewPermanentError(errors.New("bookmark has no link"))
	}

	payload := raindropRequest{
		Link:       bookmark.Link,
		Title:      truncate(bookmark.Title, maxTitleChars),
		Excerpt:    truncate(bookmark.Note, maxExcerptChars),
		Collection: collectionRef{ID: bookmark.CollectionID},
	}
	if !bookmark.Created.IsZero() {
		payload.Created = bookmark.Created.UTC().Format(time.RFC3339)
	}

	var resp raindropResponse
	if err := c.post(ctx, "/raindrop", payload, &resp); err != nil {
		return err
	}
	if !resp.Result {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = resp.Error
		}
		return domain.NewPermanentError(fmt.Errorf("raindrop rejected bookmark: %s", msg))
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.NewPermanentError(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return domain.NewPermanentError(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, raw)
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewTransientError(fmt.Errorf("decode response: %w", err))
	}

	return nil
}

func classifyStatus(status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	err := fmt.Errorf("raindrop error (status %d): %s", status, snippet)

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return domain.NewTransientError(err)
	}
	return domain.NewPermanentError(err)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
