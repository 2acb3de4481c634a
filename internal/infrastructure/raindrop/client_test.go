package raindrop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RSSBouncer/internal/config"
	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.RaindropConfig{Endpoint: server.URL + "/", Token: "rd-token"})
}

func TestSavePostsBookmark(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/raindrop", r.URL.Path)
		assert.Equal(t, "Bearer rd-token", r.Header.Get("Authorization"))

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "https://example.com/posts/zero-day", got["link"])
		assert.Equal(t, "Zero-day in widget", got["title"])
		assert.Equal(t, "affects widget users", got["excerpt"])
		assert.Equal(t, "2026-10-17T09:30:00Z", got["created"])
		assert.Equal(t, map[string]any{"$id": float64(101)}, got["collection"])

		_, _ = w.Write([]byte(`{"result":true,"item":{"_id":1}}`))
	})

	err := client.Save(context.Background(), ports.Bookmark{
		CollectionID: 101,
		Link:         "https://example.com/posts/zero-day",
		Title:        "Zero-day in widget",
		Note:         "affects widget users",
		Created:      time.Date(2026, time.October, 17, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestSaveClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow", transient: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: "down", transient: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"result":false}`},
		{name: "unknown collection", status: http.StatusNotFound, body: `{"result":false}`},
		{name: "rejected", status: http.StatusOK, body: `{"result":false,"errorMessage":"collection not found"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			err := client.Save(context.Background(), ports.Bookmark{CollectionID: 7, Link: "https://example.com/a"})
			require.Error(t, err)
			assert.Equal(t, tc.transient, domain.IsTransient(err))
			assert.Equal(t, !tc.transient, domain.IsPermanent(err))
		})
	}
}

func TestSaveRejectsMissingCollection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})

	err := client.Save(context.Background(), ports.Bookmark{Link: "https://example.com/a"})
	assert.True(t, domain.IsPermanent(err))
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Len(t, []rune(truncate(strings.Repeat("ж", maxExcerptChars+5), maxExcerptChars)), maxExcerptChars)
}
