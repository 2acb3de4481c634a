package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDigest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "-100", r.PostForm.Get("chat_id"))
		assert.Equal(t, "run finished", r.PostForm.Get("text"))
		assert.Equal(t, "true", r.PostForm.Get("disable_web_page_preview"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	notifier := NewNotifier("123:abc", "-100").WithAPIBase(server.URL + "/")
	require.NoError(t, notifier.PublishDigest(context.Background(), "run finished\n"))
}

func TestPublishDigestTruncatesLongDigests(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := range 400 {
		lines = append(lines, fmt.Sprintf("failed feed: https://feed-%03d.example/rss.xml", i))
	}
	digest := "run run-1: completed with failures in 2s\n" + strings.Join(lines, "\n")

	var sent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sent = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	require.NoError(t, NewNotifier("123:abc", "-100").WithAPIBase(server.URL).PublishDigest(context.Background(), digest))

	assert.LessOrEqual(t, utf8.RuneCountInString(sent), maxMessageRunes)
	assert.True(t, strings.HasPrefix(sent, "run run-1: completed with failures"))
	assert.True(t, strings.HasSuffix(sent, truncatedMarker))

	body := strings.TrimSuffix(sent, truncatedMarker)
	last := body[strings.LastIndexByte(body, '\n')+1:]
	assert.Contains(t, lines, last, "the digest is cut at a line boundary")
}

func TestFitMessageKeepsShortText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", fitMessage("ok"))

	long := strings.Repeat("é", maxMessageRunes+10)
	fitted := fitMessage(long)
	assert.Equal(t, maxMessageRunes, utf8.RuneCountInString(fitted))
	assert.True(t, utf8.ValidString(fitted))
}

func TestPublishDigestErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer server.Close()

	err := NewNotifier("123:abc", "-100").WithAPIBase(server.URL).PublishDigest(context.Background(), "x")
	assert.ErrorContains(t, err, "status 403")
	assert.ErrorContains(t, err, "bot was blocked")

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer plain.Close()

	err = NewNotifier("123:abc", "-100").WithAPIBase(plain.URL).PublishDigest(context.Background(), "x")
	assert.ErrorContains(t, err, "502")

	err = NewNotifier("", "-100").PublishDigest(context.Background(), "x")
	assert.ErrorContains(t, err, "misconfigured")
}

func TestPublishDigestSkipsEmptyDigest(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer server.Close()

	require.NoError(t, NewNotifier("123:abc", "-100").WithAPIBase(server.URL).PublishDigest(context.Background(), "  \n"))
	assert.False(t, called)
}
