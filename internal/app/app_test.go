package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RSSBouncer/internal/config"
	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/infrastructure/secrets"
	"RSSBouncer/internal/logging"
)

type mapSecrets map[string]string

func (m mapSecrets) Secret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%s: %w", name, secrets.ErrNotFound)
}

type brokenSecrets struct{}

func (brokenSecrets) Secret(context.Context, string) (string, error) {
	return "", errors.New("permission denied")
}

var promptArticle = regexp.MustCompile(`(?m)^\[(\d+)\] Title: (.*)$`)

// fakeServices stands in for the feed host, the chat API, Raindrop and the Pushgateway.
type fakeServices struct {
	feed, chat, raindrop, gateway *httptest.Server

	mu        sync.Mutex
	bookmarks []map[string]any
	chatCalls atomic.Int32
	pushes    atomic.Int32
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	s := &fakeServices{}

	published := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC1123Z)
	s.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Widget Security</title>
<item><title>Zero-day in widget</title><link>https://example.com/posts/zero-day</link><guid>urn:widget:42</guid><pubDate>%s</pubDate><description>Critical flaw</description></item>
<item><title>Ten tips for productivity</title><link>https://example.com/posts/tips</link><guid>urn:widget:43</guid><pubDate>%s</pubDate><description>Listicle</description></item>
<item><title>Archive post</title><link>https://example.com/posts/old</link><guid>urn:widget:1</guid><pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate></item>
</channel></rss>`, published, published)
	}))

	s.chat = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.chatCalls.Add(1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		prompt := req.Messages[len(req.Messages)-1].Content
		var verdicts []map[string]string
		for _, m := range promptArticle.FindAllStringSubmatch(prompt, -1) {
			collection := "skip"
			if strings.Contains(m[2], "Zero-day") {
				collection = "read"
			}
			verdicts = append(verdicts, map[string]string{"id": m[1], "collection": collection, "reason": "test"})
		}
		content, _ := json.Marshal(map[string]any{"verdicts": verdicts})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": string(content)}}},
		})
	}))

	s.raindrop = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.bookmarks = append(s.bookmarks, body)
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"result":true}`))
	}))

	s.gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	t.Cleanup(func() {
		s.feed.Close()
		s.chat.Close()
		s.raindrop.Close()
		s.gateway.Close()
	})
	return s
}

func (s *fakeServices) saved() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.bookmarks...)
}

func (s *fakeServices) config() config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Feeds = []string{s.feed.URL + "/feed.xml"}
	cfg.Filters.Personas = []config.PersonaConfig{{Name: "Security Consultant", Interests: []string{"Zero-day vulnerabilities"}}}
	cfg.OpenAI.Endpoint = s.chat.URL
	cfg.Raindrop.Endpoint = s.raindrop.URL
	cfg.Raindrop.Collections = config.CollectionsConfig{Read: 101, Maybe: 102, Skip: 103}
	cfg.Raindrop.SaveSkipped = false
	cfg.State = config.StateConfig{Driver: "sqlite", DSN: ":memory:"}
	cfg.Metrics.PushgatewayURL = s.gateway.URL
	cfg.Processing.Retry.BaseDelay = time.Millisecond
	return cfg
}

func TestRunOnceEndToEnd(t *testing.T) {
	services := newFakeServices(t)

	application, err := New(context.Background(), services.config(), logging.Discard(), mapSecrets{
		"OPENAI_API_KEY": "sk-test",
		"RAINDROP_TOKEN": "rd-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	summary, err := application.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Succeeded(), summary.String())
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, 1, summary.Routed[domain.CollectionRead])
	assert.Equal(t, 1, summary.Routed[domain.CollectionSkip])
	assert.Equal(t, 1, summary.Persisted)

	saved := services.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "https://example.com/posts/zero-day", saved[0]["link"])
	assert.Equal(t, map[string]any{"$id": float64(101)}, saved[0]["collection"])
	assert.EqualValues(t, 1, services.pushes.Load())

	second, err := application.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Equal(t, 3, second.AlreadySeen)
	assert.Len(t, services.saved(), 1)
	assert.EqualValues(t, 1, services.chatCalls.Load())
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, logging.Discard(), mapSecrets{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "at least one feed URL")
	assert.ErrorContains(t, err, "openai api key is required")
}

func TestNewPropagatesSecretErrors(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, logging.Discard(), brokenSecrets{})
	assert.ErrorContains(t, err, "resolve secret OPENAI_API_KEY")
}

func TestCriteriaFromConfigDropsUnknownCollections(t *testing.T) {
	criteria := criteriaFromConfig(config.FiltersConfig{
		CollectionRules: map[string]string{"Read": "act now", "later": "?"},
		SkipCriteria:    []string{"ads"},
	}, logging.Discard())

	assert.Equal(t, map[domain.Collection]string{domain.CollectionRead: "act now"}, criteria.CollectionRules)
	assert.Equal(t, []string{"ads"}, criteria.SkipCriteria)
}
